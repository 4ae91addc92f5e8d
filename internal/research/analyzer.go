package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "wheel-trader/internal/errors"
)

// RiskLevel is the model's assessment of assignment risk.
type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskUnknown RiskLevel = "UNKNOWN"
)

// Assessment is the parsed block for one symbol.
type Assessment struct {
	Symbol        string    `json:"symbol"`
	Company       string    `json:"company"`
	Business      string    `json:"business"`
	Earnings      string    `json:"earnings"`
	AnalystRating string    `json:"analyst_rating"`
	News          string    `json:"news"`
	Risk          RiskLevel `json:"risk"`
	RiskReason    string    `json:"risk_reason"`
	Summary       string    `json:"summary"`
}

// Report groups assessments by risk.
type Report struct {
	Model       string       `json:"model,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
	Assessments []Assessment `json:"assessments"`
	Safe        []string     `json:"safe"`
	Caution     []string     `json:"caution"`
	Avoid       []string     `json:"avoid"`
	// Unassessed lists requested symbols the response did not cover.
	Unassessed []string `json:"unassessed"`
	Raw        string   `json:"-"`
}

const systemPrompt = `You are a financial analyst helping options traders assess stocks for cash-secured put strategies. Provide concise, actionable analysis.`

const promptTemplate = `Analyze these stocks for selling cash-secured puts: %s

Format your response EXACTLY like this for each stock:

**SYMBOL - Full Company Name**
Business: one sentence on what the company does
Earnings: quarter and estimated date or week of the next report
Analyst Rating: consensus rating if known, otherwise "Data not available"
News: recent notable events or "No major news"
Risk: Low|Medium|High - brief reason
Summary: three sentences covering the company, earnings timing and put-selling suitability

---

Focus on assignment risk, volatility events and negative catalysts. If exact dates are unknown, estimate from the usual reporting pattern.`

// Analyzer screens symbols with an LLM.
type Analyzer struct {
	llm    LLMClient
	model  string
	logger zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer. model is recorded on reports only.
func NewAnalyzer(llm LLMClient, model string, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		llm:    llm,
		model:  model,
		logger: logger.With().Str("component", "research").Logger(),
		now:    time.Now,
	}
}

// Analyze asks for a risk assessment of every symbol in one request.
func (a *Analyzer) Analyze(ctx context.Context, symbols []string) (*Report, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols", symbols, "at least one symbol is required")
	}

	start := a.now()
	raw, err := a.llm.CompleteWithSystem(ctx, systemPrompt, fmt.Sprintf(promptTemplate, strings.Join(symbols, ", ")))
	if err != nil {
		a.logger.Error().Err(err).Strs("symbols", symbols).Msg("analysis request failed")
		return nil, fmt.Errorf("analyzing %d symbols: %w", len(symbols), err)
	}

	report := BuildReport(raw, symbols)
	report.Model = a.model
	report.GeneratedAt = start

	a.logger.Info().
		Int("symbols", len(symbols)).
		Int("safe", len(report.Safe)).
		Int("caution", len(report.Caution)).
		Int("avoid", len(report.Avoid)).
		Int("unassessed", len(report.Unassessed)).
		Dur("duration", a.now().Sub(start)).
		Msg("analysis complete")

	return report, nil
}

// BuildReport parses a response and categorises the requested symbols.
// Assessments for symbols that were not requested are dropped.
func BuildReport(raw string, requested []string) *Report {
	report := &Report{Raw: raw}

	want := make(map[string]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}

	seen := make(map[string]bool)
	for _, as := range ParseAssessments(raw) {
		if !want[as.Symbol] || seen[as.Symbol] {
			continue
		}
		seen[as.Symbol] = true
		report.Assessments = append(report.Assessments, as)

		switch as.Risk {
		case RiskLow:
			report.Safe = append(report.Safe, as.Symbol)
		case RiskMedium:
			report.Caution = append(report.Caution, as.Symbol)
		case RiskHigh:
			report.Avoid = append(report.Avoid, as.Symbol)
		default:
			report.Unassessed = append(report.Unassessed, as.Symbol)
		}
	}

	for _, s := range requested {
		if !seen[s] {
			report.Unassessed = append(report.Unassessed, s)
		}
	}
	sort.Strings(report.Unassessed)
	return report
}

// ParseAssessments reads "**SYM - Name**" headed blocks in response order.
func ParseAssessments(raw string) []Assessment {
	var out []Assessment
	var cur *Assessment

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") && len(line) > 4 {
			flush()
			symbol, company := splitHeader(strings.Trim(line, "* "))
			if symbol == "" {
				continue
			}
			cur = &Assessment{Symbol: symbol, Company: company, Risk: RiskUnknown}
			continue
		}
		if cur == nil {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "business":
			cur.Business = value
		case "earnings":
			cur.Earnings = value
		case "analyst rating":
			cur.AnalystRating = value
		case "news":
			cur.News = value
		case "risk":
			cur.Risk, cur.RiskReason = parseRisk(value)
		case "summary":
			cur.Summary = value
		}
	}
	flush()
	return out
}

func splitHeader(h string) (symbol, company string) {
	sym, name, _ := strings.Cut(h, " - ")
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" || strings.ContainsAny(sym, " \t") {
		return "", ""
	}
	return sym, strings.TrimSpace(name)
}

func parseRisk(v string) (RiskLevel, string) {
	level, reason, _ := strings.Cut(v, " - ")
	reason = strings.TrimSpace(reason)
	switch strings.ToLower(strings.Trim(strings.TrimSpace(level), "[]*")) {
	case "low":
		return RiskLow, reason
	case "medium", "moderate":
		return RiskMedium, reason
	case "high":
		return RiskHigh, reason
	}
	return RiskUnknown, strings.TrimSpace(v)
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
