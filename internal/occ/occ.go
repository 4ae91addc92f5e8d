// Package occ parses and formats OCC option symbols.
//
// An OCC symbol is the underlying root (up to six characters, space padded
// in the canonical 21-character form), a YYMMDD expiration, C or P, and the
// strike in thousandths of a dollar as eight digits:
//
//	SOFI  260206P00030000  -> SOFI, 2026-02-06, PUT, 30.000
package occ

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
)

// Exchange is the time zone option expirations are expressed in.
var Exchange *time.Location

func init() {
	var err error
	Exchange, err = time.LoadLocation("America/New_York")
	if err != nil {
		Exchange = time.FixedZone("ET", -5*60*60)
	}
}

// Identity is the decoded content of an OCC symbol.
type Identity struct {
	Underlying string
	Expiration time.Time // midnight, exchange time zone
	Type       models.OptionType
	Strike     float64
}

const tailLen = 6 + 1 + 8

// Parse decodes an OCC symbol. Spaces are ignored, so both the padded and
// compact forms are accepted.
func Parse(symbol string) (Identity, error) {
	compact := strings.ReplaceAll(strings.TrimSpace(symbol), " ", "")
	if len(compact) <= tailLen {
		return Identity{}, malformed(symbol, "too short")
	}

	root := compact[:len(compact)-tailLen]
	tail := compact[len(compact)-tailLen:]

	if !validRoot(root) {
		return Identity{}, malformed(symbol, "invalid underlying")
	}

	datePart, typePart, strikePart := tail[:6], tail[6], tail[7:]
	if !allDigits(datePart) || !allDigits(strikePart) {
		return Identity{}, malformed(symbol, "non-numeric date or strike")
	}

	exp, err := time.ParseInLocation("060102", datePart, Exchange)
	if err != nil {
		return Identity{}, malformed(symbol, "invalid expiration date")
	}

	var typ models.OptionType
	switch typePart {
	case 'P':
		typ = models.OptionTypePut
	case 'C':
		typ = models.OptionTypeCall
	default:
		return Identity{}, malformed(symbol, "option type must be C or P")
	}

	thousandths, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil {
		return Identity{}, malformed(symbol, "invalid strike")
	}

	return Identity{
		Underlying: root,
		Expiration: exp,
		Type:       typ,
		Strike:     float64(thousandths) / 1000,
	}, nil
}

// Format renders the padded 21-character OCC form.
func Format(id Identity) string {
	typ := "C"
	if id.Type == models.OptionTypePut {
		typ = "P"
	}
	strike := int64(math.Round(id.Strike * 1000))
	return fmt.Sprintf("%-6s%s%s%08d", id.Underlying, id.Expiration.In(Exchange).Format("060102"), typ, strike)
}

// Agrees reports whether structured option fields match the parsed identity.
// Zero-valued structured fields are treated as absent and not compared.
func (id Identity) Agrees(strike float64, expiration time.Time, typ models.OptionType) bool {
	if strike != 0 && math.Abs(strike-id.Strike) > 0.0005 {
		return false
	}
	if !expiration.IsZero() && DateKey(expiration) != DateKey(id.Expiration) {
		return false
	}
	if typ != "" && typ != id.Type {
		return false
	}
	return true
}

// DateKey returns the YYYY-MM-DD calendar date of t in the exchange time zone.
func DateKey(t time.Time) string {
	return t.In(Exchange).Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD date, or an RFC 3339 timestamp, as a
// calendar date in the exchange time zone.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, malformedDate(s)
	}
	if t, err := time.ParseInLocation("2006-01-02", s, Exchange); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return StartOfDay(t), nil
	}
	return time.Time{}, malformedDate(s)
}

// StartOfDay truncates t to midnight in the exchange time zone.
func StartOfDay(t time.Time) time.Time {
	t = t.In(Exchange)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Exchange)
}

// DaysBetween returns whole calendar days from 'from' to 'to' in the exchange
// time zone. DST transitions do not shift the count.
func DaysBetween(from, to time.Time) int {
	a := StartOfDay(from)
	b := StartOfDay(to)
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func validRoot(root string) bool {
	if root == "" || len(root) > 6 {
		return false
	}
	if root[0] < 'A' || root[0] > 'Z' {
		return false
	}
	for i := 1; i < len(root); i++ {
		c := root[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '.' && c != '/' {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func malformed(symbol, reason string) error {
	return apperrors.NewMalformedRecordError("symbol", symbol, reason)
}

func malformedDate(s string) error {
	return apperrors.NewMalformedRecordError("date", s, "unparsable date")
}
