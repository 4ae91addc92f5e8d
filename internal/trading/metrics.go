// Package trading implements the premium economics, opportunity selection,
// premium accounting and capital ladder used by the desk. Everything here
// except the Scanner is pure: no I/O, no shared state, safe to call
// concurrently.
package trading

import (
	"math"
	"sort"
	"time"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// WideSpreadSentinel is the spread percentage reported when mid is zero.
const WideSpreadSentinel = 999.0

// RejectReason explains why a raw contract could not be normalized.
type RejectReason string

const (
	ReasonNonPositiveBid       RejectReason = "zero_or_negative_bid"
	ReasonNonPositiveStrike    RejectReason = "non_positive_strike"
	ReasonNonPositiveDTE       RejectReason = "non_positive_dte"
	ReasonUnparsableExpiration RejectReason = "unparsable_expiration"
	ReasonMissingGreeks        RejectReason = "missing_greeks"
)

// Rejection is a typed per-record outcome; it is not an error.
type Rejection struct {
	Symbol string
	Reason RejectReason
}

// RejectionStats aggregates rejections for a batch.
type RejectionStats struct {
	ByReason     map[RejectReason]int `json:"by_reason"`
	MidFallbacks int                  `json:"mid_fallbacks"`
	Accepted     int                  `json:"accepted"`
}

// NewRejectionStats returns an empty stats value.
func NewRejectionStats() RejectionStats {
	return RejectionStats{ByReason: make(map[RejectReason]int)}
}

// Total returns the number of rejected records.
func (s RejectionStats) Total() int {
	n := 0
	for _, c := range s.ByReason {
		n += c
	}
	return n
}

// Merge adds other into s.
func (s *RejectionStats) Merge(other RejectionStats) {
	if s.ByReason == nil {
		s.ByReason = make(map[RejectReason]int)
	}
	for r, c := range other.ByReason {
		s.ByReason[r] += c
	}
	s.MidFallbacks += other.MidFallbacks
	s.Accepted += other.Accepted
}

// Reasons returns the reasons present in s in a stable order.
func (s RejectionStats) Reasons() []RejectReason {
	out := make([]RejectReason, 0, len(s.ByReason))
	for r := range s.ByReason {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize converts a raw chain entry into an OpportunityRecord.
//
// DTE is always computed from the expiration date and today; upstream
// days-to-expiration values are not trusted. When the bid is missing but an
// ask exists, half the ask stands in for the bid.
func Normalize(raw models.OptionContract, today time.Time) (models.OpportunityRecord, *Rejection) {
	reject := func(r RejectReason) (models.OpportunityRecord, *Rejection) {
		return models.OpportunityRecord{}, &Rejection{Symbol: raw.Symbol, Reason: r}
	}

	rec := models.OpportunityRecord{OptionContract: raw}

	if raw.Bid <= 0 && raw.Ask > 0 {
		rec.Bid = raw.Ask / 2
		rec.MidFallback = true
	}
	if rec.Bid <= 0 || math.IsNaN(rec.Bid) {
		return reject(ReasonNonPositiveBid)
	}
	if raw.Strike <= 0 || math.IsNaN(raw.Strike) {
		return reject(ReasonNonPositiveStrike)
	}
	if raw.Expiration.IsZero() {
		return reject(ReasonUnparsableExpiration)
	}

	dte := occ.DaysBetween(today, raw.Expiration)
	if dte <= 0 {
		return reject(ReasonNonPositiveDTE)
	}
	if raw.Greeks == nil {
		return reject(ReasonMissingGreeks)
	}

	rec.DTE = dte
	rec.AbsDelta = math.Abs(raw.Greeks.Delta)
	// Mid and spread describe the quoted market, not the substituted bid.
	rec.Mid = raw.Mid()

	rec.PremiumPct = rec.Bid / rec.Strike * 100
	rec.WeeklyReturnPct = rec.PremiumPct / float64(dte) * 7
	rec.MonthlyReturnPct = rec.PremiumPct / float64(dte) * 30
	rec.AnnualReturnPct = rec.PremiumPct / float64(dte) * 365

	if rec.Mid > 0 {
		rec.SpreadPct = (raw.Ask - math.Max(raw.Bid, 0)) / rec.Mid * 100
	} else {
		rec.SpreadPct = WideSpreadSentinel
	}

	return rec, nil
}

// NormalizeAll normalizes a batch and counts rejections per reason.
func NormalizeAll(raws []models.OptionContract, today time.Time) ([]models.OpportunityRecord, RejectionStats) {
	stats := NewRejectionStats()
	out := make([]models.OpportunityRecord, 0, len(raws))
	for _, raw := range raws {
		rec, rej := Normalize(raw, today)
		if rej != nil {
			stats.ByReason[rej.Reason]++
			continue
		}
		if rec.MidFallback {
			stats.MidFallbacks++
		}
		stats.Accepted++
		out = append(out, rec)
	}
	return out, stats
}
