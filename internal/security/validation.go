package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "wheel-trader/internal/errors"
)

// Validation patterns
var (
	// Underlying tickers: letters, digits, dot and slash share classes
	symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9./]{0,9}$`)

	// Order ID pattern: alphanumeric with limited special chars
	orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Watchlist name pattern: alphanumeric with spaces and underscores
	watchlistPattern = regexp.MustCompile(`^[A-Za-z0-9_ -]{1,50}$`)

	// API key patterns for detection (not validation)
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer|password)[=:\s]+["']?([A-Za-z0-9_\-\.]{8,})["']?`),
		regexp.MustCompile(`(sk-[A-Za-z0-9_\-]{20,})`), // OpenAI keys
		regexp.MustCompile(`([A-Za-z0-9]{32,})`),        // Generic long tokens
	}
)

// MaxContractsPerOrder caps a single order.
const MaxContractsPerOrder = 100

// ValidateSymbol validates an underlying ticker.
func ValidateSymbol(symbol string) error {
	s := strings.TrimSpace(strings.ToUpper(symbol))
	if s == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(s) {
		return apperrors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return nil
}

// ValidateOrderID validates an order ID.
func ValidateOrderID(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return apperrors.NewValidationError("order_id", orderID, "order ID cannot be empty")
	}
	if !orderIDPattern.MatchString(orderID) {
		return apperrors.NewValidationError("order_id", orderID, "invalid order ID format")
	}
	return nil
}

// ValidateWatchlistName validates a watchlist name.
func ValidateWatchlistName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewValidationError("watchlist", name, "watchlist name cannot be empty")
	}
	if !watchlistPattern.MatchString(name) {
		return apperrors.NewValidationError("watchlist", name, "invalid watchlist name format")
	}
	return nil
}

// ValidateQuantity validates a contract count.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return apperrors.NewValidationError("quantity", qty, "quantity must be positive")
	}
	if qty > MaxContractsPerOrder {
		return apperrors.NewValidationError("quantity", qty, fmt.Sprintf("quantity exceeds %d contracts", MaxContractsPerOrder))
	}
	return nil
}

// ValidateLimitPrice validates a per-share option limit price.
func ValidateLimitPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return apperrors.NewValidationError("limit", price.String(), "limit price must be positive")
	}
	if !price.Equal(price.Round(2)) {
		return apperrors.NewValidationError("limit", price.String(), "limit price must be in whole cents")
	}
	return nil
}

// MaskSensitive masks credential-like substrings.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if len(match) > 8 {
				return match[:4] + strings.Repeat("*", len(match)-8) + match[len(match)-4:]
			}
			return strings.Repeat("*", len(match))
		})
	}
	return result
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
