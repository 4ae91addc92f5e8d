package main

import (
	"os"

	"wheel-trader/internal/cli"
	"wheel-trader/internal/logging"
)

func main() {
	logger := logging.NewLogger()
	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
