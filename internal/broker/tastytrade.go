package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

const (
	// TastytradeProductionURL is the live API root.
	TastytradeProductionURL = "https://api.tastyworks.com"

	tastytradeSessionTTL    = 24 * time.Hour
	tastytradeRefreshMargin = time.Hour
)

// TastytradeConfig holds configuration for the tastytrade client.
type TastytradeConfig struct {
	Username string
	Password string
	BaseURL  string
	HTTP     HTTPConfig
}

// TastytradeClient implements Broker against the tastytrade REST API.
type TastytradeClient struct {
	rest     *restClient
	username string
	password string

	mu           sync.RWMutex
	sessionToken string
	expiresAt    time.Time

	now func() time.Time
}

// NewTastytradeClient creates a new tastytrade client. No request is made
// until the first call.
func NewTastytradeClient(cfg TastytradeConfig, logger zerolog.Logger) *TastytradeClient {
	base := cfg.BaseURL
	if base == "" {
		base = TastytradeProductionURL
	}
	return &TastytradeClient{
		rest:     newRESTClient("tastytrade", strings.TrimRight(base, "/"), cfg.HTTP, logger),
		username: cfg.Username,
		password: cfg.Password,
		now:      time.Now,
	}
}

// Name returns the provider name.
func (t *TastytradeClient) Name() string { return "tastytrade" }

// Login creates a session. Sessions last 24 hours and are refreshed an
// hour before they lapse.
func (t *TastytradeClient) Login(ctx context.Context) error {
	if t.username == "" || t.password == "" {
		return apperrors.Wrap(apperrors.ErrInvalidCredentials, "tastytrade username and password are required")
	}

	var resp struct {
		Data struct {
			SessionToken string `json:"session-token"`
		} `json:"data"`
	}
	err := t.rest.do(ctx, request{
		method: http.MethodPost,
		path:   "/sessions",
		body: map[string]any{
			"login":       t.username,
			"password":    t.password,
			"remember-me": false,
		},
	}, &resp)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSessionExpired) || apperrors.Is(err, apperrors.ErrOrderRejected) {
			return apperrors.Wrap(apperrors.ErrInvalidCredentials, err.Error())
		}
		return fmt.Errorf("tastytrade login: %w", err)
	}
	if resp.Data.SessionToken == "" {
		return apperrors.NewBrokerError("tastytrade", http.StatusCreated, "session response carried no token", apperrors.ErrNotAuthenticated)
	}

	t.mu.Lock()
	t.sessionToken = resp.Data.SessionToken
	t.expiresAt = t.now().Add(tastytradeSessionTTL)
	t.mu.Unlock()
	return nil
}

// IsAuthenticated reports whether a session token is held and not due for refresh.
func (t *TastytradeClient) IsAuthenticated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionToken != "" && t.now().Before(t.expiresAt.Add(-tastytradeRefreshMargin))
}

func (t *TastytradeClient) authHeaders(ctx context.Context) (map[string]string, error) {
	if !t.IsAuthenticated() {
		if err := t.Login(ctx); err != nil {
			return nil, err
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string]string{"Authorization": t.sessionToken}, nil
}

func (t *TastytradeClient) get(ctx context.Context, path string, query url.Values, out any) error {
	headers, err := t.authHeaders(ctx)
	if err != nil {
		return err
	}
	return t.rest.do(ctx, request{method: http.MethodGet, path: path, query: query, headers: headers}, out)
}

type ttItems[T any] struct {
	Data struct {
		Items []T `json:"items"`
	} `json:"data"`
}

// GetAccounts lists the customer's accounts.
func (t *TastytradeClient) GetAccounts(ctx context.Context) ([]models.Account, error) {
	var resp ttItems[struct {
		Account struct {
			AccountNumber string `json:"account-number"`
			Nickname      string `json:"nickname"`
		} `json:"account"`
	}]
	if err := t.get(ctx, "/customers/me/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching accounts: %w", err)
	}

	accounts := make([]models.Account, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		accounts = append(accounts, models.Account{
			Number:   item.Account.AccountNumber,
			Nickname: item.Account.Nickname,
		})
	}
	return accounts, nil
}

// GetBalances returns the account balances.
func (t *TastytradeClient) GetBalances(ctx context.Context, account string) (*models.Balance, error) {
	if account == "" {
		return nil, apperrors.ErrNoAccount
	}
	var resp struct {
		Data struct {
			AccountNumber         string      `json:"account-number"`
			CashBalance           flexDecimal `json:"cash-balance"`
			DerivativeBuyingPower flexDecimal `json:"derivative-buying-power"`
			EquityBuyingPower     flexDecimal `json:"equity-buying-power"`
			NetLiquidatingValue   flexDecimal `json:"net-liquidating-value"`
		} `json:"data"`
	}
	if err := t.get(ctx, "/accounts/"+url.PathEscape(account)+"/balances", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching balances: %w", err)
	}
	return &models.Balance{
		AccountNumber:         account,
		CashBalance:           resp.Data.CashBalance.Decimal,
		DerivativeBuyingPower: resp.Data.DerivativeBuyingPower.Decimal,
		EquityBuyingPower:     resp.Data.EquityBuyingPower.Decimal,
		NetLiquidatingValue:   resp.Data.NetLiquidatingValue.Decimal,
	}, nil
}

type ttPosition struct {
	AccountNumber     string    `json:"account-number"`
	Symbol            string    `json:"symbol"`
	InstrumentType    string    `json:"instrument-type"`
	UnderlyingSymbol  string    `json:"underlying-symbol"`
	Quantity          flexInt   `json:"quantity"`
	QuantityDirection string    `json:"quantity-direction"`
	AverageOpenPrice  flexFloat `json:"average-open-price"`
	MarkPrice         flexFloat `json:"mark-price"`
	Mark              flexFloat `json:"mark"`
	ClosePrice        flexFloat `json:"close-price"`
	StrikePrice       flexFloat `json:"strike-price"`
	ExpiresAt         string    `json:"expires-at"`
	OptionType        string    `json:"option-type"`
}

// GetPositions returns raw positions. Normalization and short detection
// happen downstream.
func (t *TastytradeClient) GetPositions(ctx context.Context, account string) ([]models.Position, error) {
	if account == "" {
		return nil, apperrors.ErrNoAccount
	}
	var resp ttItems[ttPosition]
	if err := t.get(ctx, "/accounts/"+url.PathEscape(account)+"/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	positions := make([]models.Position, 0, len(resp.Data.Items))
	for _, p := range resp.Data.Items {
		mark := float64(p.MarkPrice)
		if mark == 0 {
			mark = float64(p.Mark)
		}
		pos := models.Position{
			AccountNumber:    p.AccountNumber,
			InstrumentType:   models.InstrumentType(p.InstrumentType),
			Symbol:           p.Symbol,
			UnderlyingSymbol: p.UnderlyingSymbol,
			Quantity:         int(p.Quantity),
			Direction:        models.QuantityDirection(p.QuantityDirection),
			AverageOpenPrice: float64(p.AverageOpenPrice),
			MarkPrice:        mark,
			ClosePrice:       float64(p.ClosePrice),
			StrikePrice:      float64(p.StrikePrice),
			OptionType:       parseOptionType(p.OptionType),
		}
		if p.ExpiresAt != "" {
			if exp, err := occ.ParseDate(p.ExpiresAt); err == nil {
				pos.Expiration = exp
			}
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

type ttTransaction struct {
	ID               flexString  `json:"id"`
	ExecutedAt       string      `json:"executed-at"`
	TransactionType  string      `json:"transaction-type"`
	InstrumentType   string      `json:"instrument-type"`
	Action           string      `json:"action"`
	Symbol           string      `json:"symbol"`
	UnderlyingSymbol string      `json:"underlying-symbol"`
	Description      string      `json:"description"`
	Quantity         flexInt     `json:"quantity"`
	Value            flexDecimal `json:"value"`
	ValueEffect      string      `json:"value-effect"`
}

// GetTransactions returns transaction history between from and to.
// Rows with unparsable timestamps are skipped and logged.
func (t *TastytradeClient) GetTransactions(ctx context.Context, account string, from, to time.Time) ([]models.Transaction, error) {
	if account == "" {
		return nil, apperrors.ErrNoAccount
	}
	query := url.Values{}
	query.Set("start-date", occ.DateKey(from))
	query.Set("end-date", occ.DateKey(to))
	query.Set("per-page", "1000")

	var resp ttItems[ttTransaction]
	if err := t.get(ctx, "/accounts/"+url.PathEscape(account)+"/transactions", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching transactions: %w", err)
	}

	txns := make([]models.Transaction, 0, len(resp.Data.Items))
	skipped := 0
	for _, r := range resp.Data.Items {
		executed, err := time.Parse(time.RFC3339Nano, r.ExecutedAt)
		if err != nil {
			skipped++
			continue
		}
		txns = append(txns, models.Transaction{
			ID:               string(r.ID),
			ExecutedAt:       executed,
			TransactionType:  r.TransactionType,
			InstrumentType:   models.InstrumentType(r.InstrumentType),
			Action:           models.OrderAction(r.Action),
			Symbol:           r.Symbol,
			UnderlyingSymbol: r.UnderlyingSymbol,
			Description:      r.Description,
			Quantity:         int(r.Quantity),
			Value:            r.Value.Decimal.Abs(),
			ValueEffect:      models.ValueEffect(r.ValueEffect),
		})
	}
	if skipped > 0 {
		t.rest.logger.Warn().Int("skipped", skipped).Msg("transactions with unparsable timestamps skipped")
	}
	return txns, nil
}

// PlaceOrder submits a single-leg option order.
func (t *TastytradeClient) PlaceOrder(ctx context.Context, req models.OrderRequest) (*OrderResult, error) {
	if err := ValidateOrder(req); err != nil {
		return nil, err
	}
	id, _ := occ.Parse(req.Symbol)

	tif := req.TimeInForce
	if tif == "" {
		tif = "Day"
	}
	payload := map[string]any{
		"time-in-force": tif,
		"order-type":    string(req.Type),
		"legs": []map[string]any{{
			"instrument-type": string(models.InstrumentEquityOption),
			"symbol":          occ.Format(id),
			"quantity":        req.Quantity,
			"action":          string(req.Action),
		}},
	}
	if req.Type == models.OrderTypeLimit {
		payload["price"] = req.LimitPrice.StringFixed(2)
		if IsCredit(req.Action) {
			payload["price-effect"] = string(models.EffectCredit)
		} else {
			payload["price-effect"] = string(models.EffectDebit)
		}
	}

	headers, err := t.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Order struct {
				ID     flexString `json:"id"`
				Status string     `json:"status"`
			} `json:"order"`
		} `json:"data"`
	}
	err = t.rest.do(ctx, request{
		method:  http.MethodPost,
		path:    "/accounts/" + url.PathEscape(req.AccountNumber) + "/orders",
		body:    payload,
		headers: headers,
	}, &resp)
	if err != nil {
		return nil, apperrors.NewOrderError("", req.Symbol, string(req.Action), "submission failed", err)
	}

	return &OrderResult{
		OrderID: string(resp.Data.Order.ID),
		Status:  resp.Data.Order.Status,
		Message: "order submitted",
	}, nil
}

// CancelOrder cancels a working order.
func (t *TastytradeClient) CancelOrder(ctx context.Context, account, orderID string) error {
	if account == "" {
		return apperrors.ErrNoAccount
	}
	headers, err := t.authHeaders(ctx)
	if err != nil {
		return err
	}
	err = t.rest.do(ctx, request{
		method:  http.MethodDelete,
		path:    "/accounts/" + url.PathEscape(account) + "/orders/" + url.PathEscape(orderID),
		headers: headers,
	}, nil)
	if apperrors.Is(err, apperrors.ErrDataNotFound) {
		return apperrors.NewOrderError(orderID, "", "cancel", "not found", apperrors.ErrOrderNotFound)
	}
	return err
}

// GetLiveOrders returns today's working and recently filled orders.
func (t *TastytradeClient) GetLiveOrders(ctx context.Context, account string) ([]models.Order, error) {
	if account == "" {
		return nil, apperrors.ErrNoAccount
	}
	var resp ttItems[struct {
		ID         flexString  `json:"id"`
		Status     string      `json:"status"`
		OrderType  string      `json:"order-type"`
		Price      flexDecimal `json:"price"`
		ReceivedAt string      `json:"received-at"`
		Legs       []struct {
			Symbol   string  `json:"symbol"`
			Quantity flexInt `json:"quantity"`
			Action   string  `json:"action"`
		} `json:"legs"`
	}]
	if err := t.get(ctx, "/accounts/"+url.PathEscape(account)+"/orders/live", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching live orders: %w", err)
	}

	orders := make([]models.Order, 0, len(resp.Data.Items))
	for _, o := range resp.Data.Items {
		order := models.Order{
			ID:            string(o.ID),
			AccountNumber: account,
			Type:          models.OrderType(o.OrderType),
			LimitPrice:    o.Price.Decimal,
			Status:        o.Status,
		}
		if len(o.Legs) > 0 {
			order.Symbol = o.Legs[0].Symbol
			order.Quantity = int(o.Legs[0].Quantity)
			order.Action = models.OrderAction(o.Legs[0].Action)
		}
		if ts, err := time.Parse(time.RFC3339Nano, o.ReceivedAt); err == nil {
			order.PlacedAt = ts
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// GetIVRank returns the implied volatility index rank as a percentage.
func (t *TastytradeClient) GetIVRank(ctx context.Context, symbol string) (*float64, error) {
	query := url.Values{}
	query.Set("symbols", symbol)

	var resp ttItems[struct {
		Symbol string     `json:"symbol"`
		IVRank flexString `json:"implied-volatility-index-rank"`
	}]
	if err := t.get(ctx, "/market-metrics", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching market metrics for %s: %w", symbol, err)
	}
	for _, m := range resp.Data.Items {
		if !strings.EqualFold(m.Symbol, symbol) || m.IVRank == "" {
			continue
		}
		v, err := decimal.NewFromString(string(m.IVRank))
		if err != nil {
			return nil, nil
		}
		rank := v.Mul(decimal.NewFromInt(100)).InexactFloat64()
		return &rank, nil
	}
	return nil, nil
}

func parseOptionType(s string) models.OptionType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P", "PUT":
		return models.OptionTypePut
	case "C", "CALL":
		return models.OptionTypeCall
	}
	return ""
}
