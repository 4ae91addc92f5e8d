package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

const (
	TradierProductionURL = "https://api.tradier.com/v1"
	TradierSandboxURL    = "https://sandbox.tradier.com/v1"
)

// TradierConfig holds configuration for the Tradier market-data client.
type TradierConfig struct {
	APIKey  string
	Sandbox bool
	BaseURL string // overrides Sandbox when set
	HTTP    HTTPConfig
}

// TradierClient implements MarketData against the Tradier API.
type TradierClient struct {
	rest   *restClient
	apiKey string
	now    func() time.Time
}

// NewTradierClient creates a new Tradier client.
func NewTradierClient(cfg TradierConfig, logger zerolog.Logger) *TradierClient {
	base := cfg.BaseURL
	if base == "" {
		base = TradierProductionURL
		if cfg.Sandbox {
			base = TradierSandboxURL
		}
	}
	return &TradierClient{
		rest:   newRESTClient("tradier", strings.TrimRight(base, "/"), cfg.HTTP, logger),
		apiKey: cfg.APIKey,
		now:    time.Now,
	}
}

func (c *TradierClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.apiKey == "" {
		return apperrors.Wrap(apperrors.ErrInvalidCredentials, "tradier api key is not configured")
	}
	return c.rest.do(ctx, request{
		method:  http.MethodGet,
		path:    path,
		query:   query,
		headers: map[string]string{"Authorization": "Bearer " + c.apiKey},
	}, out)
}

type tradierOption struct {
	Symbol         string    `json:"symbol"`
	Underlying     string    `json:"underlying"`
	RootSymbol     string    `json:"root_symbol"`
	Strike         flexFloat `json:"strike"`
	OptionType     string    `json:"option_type"`
	ExpirationDate string    `json:"expiration_date"`
	Bid            flexFloat `json:"bid"`
	Ask            flexFloat `json:"ask"`
	OpenInterest   flexInt   `json:"open_interest"`
	Volume         flexInt   `json:"volume"`
	Greeks         *struct {
		Delta flexFloat `json:"delta"`
		Gamma flexFloat `json:"gamma"`
		Theta flexFloat `json:"theta"`
		Vega  flexFloat `json:"vega"`
		MidIV flexFloat `json:"mid_iv"`
	} `json:"greeks"`
}

// GetOptionChain fetches every expiration within the DTE window. Tradier
// serves one expiration per chain request.
func (c *TradierClient) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (*models.OptionChain, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	today := c.now()

	expirations, err := c.expirations(ctx, symbol)
	if err != nil {
		return nil, err
	}

	chain := &models.OptionChain{Symbol: symbol}
	for _, exp := range expirations {
		dte := occ.DaysBetween(today, exp)
		if dte < minDTE || dte > maxDTE {
			continue
		}

		query := url.Values{}
		query.Set("symbol", symbol)
		query.Set("expiration", occ.DateKey(exp))
		query.Set("greeks", "true")

		var resp struct {
			Options *struct {
				Option oneOrMany[tradierOption] `json:"option"`
			} `json:"options"`
		}
		if err := c.get(ctx, "/markets/options/chains", query, &resp); err != nil {
			return nil, fmt.Errorf("fetching %s chain for %s: %w", symbol, occ.DateKey(exp), err)
		}
		if resp.Options == nil {
			continue
		}
		for _, o := range resp.Options.Option {
			chain.Contracts = append(chain.Contracts, toContract(symbol, o))
		}
	}

	if len(chain.Contracts) == 0 {
		return chain, nil
	}

	quote, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	chain.UnderlyingPrice = quote.Last
	for i := range chain.Contracts {
		chain.Contracts[i].UnderlyingPrice = quote.Last
	}
	return chain, nil
}

func (c *TradierClient) expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("includeAllRoots", "true")
	query.Set("strikes", "false")

	var resp struct {
		Expirations *struct {
			Date oneOrMany[string] `json:"date"`
		} `json:"expirations"`
	}
	if err := c.get(ctx, "/markets/options/expirations", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching expirations for %s: %w", symbol, err)
	}
	if resp.Expirations == nil {
		return nil, nil
	}

	out := make([]time.Time, 0, len(resp.Expirations.Date))
	for _, d := range resp.Expirations.Date {
		t, err := occ.ParseDate(d)
		if err != nil {
			c.rest.logger.Debug().Str("symbol", symbol).Str("date", d).Msg("skipping unparsable expiration")
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// toContract maps a chain row. An unparsable expiration leaves the zero
// time, which normalization rejects.
func toContract(symbol string, o tradierOption) models.OptionContract {
	c := models.OptionContract{
		Symbol:       o.Symbol,
		Underlying:   symbol,
		Strike:       float64(o.Strike),
		OptionType:   parseOptionType(o.OptionType),
		Bid:          float64(o.Bid),
		Ask:          float64(o.Ask),
		OpenInterest: int64(o.OpenInterest),
		Volume:       int64(o.Volume),
	}
	if exp, err := occ.ParseDate(o.ExpirationDate); err == nil {
		c.Expiration = exp
	}
	if o.Greeks != nil {
		c.Greeks = &models.OptionGreeks{
			Delta: float64(o.Greeks.Delta),
			Gamma: float64(o.Greeks.Gamma),
			Theta: float64(o.Greeks.Theta),
			Vega:  float64(o.Greeks.Vega),
			IV:    float64(o.Greeks.MidIV),
		}
	}
	return c
}

// GetQuote returns the latest equity quote.
func (c *TradierClient) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	query := url.Values{}
	query.Set("symbols", symbol)

	var resp struct {
		Quotes *struct {
			Quote oneOrMany[struct {
				Symbol    string    `json:"symbol"`
				Last      flexFloat `json:"last"`
				Bid       flexFloat `json:"bid"`
				Ask       flexFloat `json:"ask"`
				Volume    flexInt   `json:"volume"`
				TradeDate flexInt   `json:"trade_date"`
			}] `json:"quote"`
		} `json:"quotes"`
	}
	if err := c.get(ctx, "/markets/quotes", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	if resp.Quotes == nil || len(resp.Quotes.Quote) == 0 {
		return nil, apperrors.NewDataError("quote", symbol, "no quote returned", apperrors.ErrSymbolNotFound)
	}

	q := resp.Quotes.Quote[0]
	quote := &models.Quote{
		Symbol: q.Symbol,
		Last:   float64(q.Last),
		Bid:    float64(q.Bid),
		Ask:    float64(q.Ask),
		Volume: int64(q.Volume),
	}
	if q.TradeDate > 0 {
		quote.Timestamp = time.UnixMilli(int64(q.TradeDate))
	}
	return quote, nil
}

// GetDailyHistory returns daily candles for the trailing number of days, oldest first.
func (c *TradierClient) GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	end := c.now()
	start := end.AddDate(0, 0, -days)

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", "daily")
	query.Set("start", occ.DateKey(start))
	query.Set("end", occ.DateKey(end))

	var resp struct {
		History *struct {
			Day oneOrMany[struct {
				Date   string    `json:"date"`
				Open   flexFloat `json:"open"`
				High   flexFloat `json:"high"`
				Low    flexFloat `json:"low"`
				Close  flexFloat `json:"close"`
				Volume flexInt   `json:"volume"`
			}] `json:"day"`
		} `json:"history"`
	}
	if err := c.get(ctx, "/markets/history", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", symbol, err)
	}
	if resp.History == nil {
		return nil, apperrors.NewDataError("history", symbol, "no history returned", apperrors.ErrDataNotFound)
	}

	candles := make([]models.Candle, 0, len(resp.History.Day))
	for _, d := range resp.History.Day {
		ts, err := occ.ParseDate(d.Date)
		if err != nil {
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      float64(d.Open),
			High:      float64(d.High),
			Low:       float64(d.Low),
			Close:     float64(d.Close),
			Volume:    int64(d.Volume),
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, nil
}

// GetIVRank is not offered by Tradier.
func (c *TradierClient) GetIVRank(ctx context.Context, symbol string) (*float64, error) {
	return nil, nil
}
