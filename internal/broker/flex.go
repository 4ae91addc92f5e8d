package broker

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Broker payloads are inconsistent about quoting numbers: the same field
// arrives as 12.5 on one endpoint and "12.5" on another. These types accept
// both and treat null or empty as zero.

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if s == "" || s == "null" || strings.EqualFold(s, "nan") {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*i = flexInt(f)
	return nil
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(unquote(b))
	if *s == "null" {
		*s = ""
	}
	return nil
}

type flexDecimal struct{ decimal.Decimal }

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if s == "" || s == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

// oneOrMany decodes a field that is a single object when there is one
// element and an array otherwise.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*o = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

func unquote(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
