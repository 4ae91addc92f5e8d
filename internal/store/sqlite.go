// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Daily candles cached from market data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timestamp)
	);

	-- Watchlist table
	CREATE TABLE IF NOT EXISTS watchlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		list_name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, list_name)
	);

	-- Monthly net premium, one row per account and month
	CREATE TABLE IF NOT EXISTS premium_snapshots (
		account TEXT NOT NULL,
		month TEXT NOT NULL,
		net TEXT NOT NULL,
		csp_net TEXT NOT NULL,
		cc_net TEXT NOT NULL,
		orders INTEGER NOT NULL,
		rolls INTEGER NOT NULL,
		captured_at DATETIME NOT NULL,
		PRIMARY KEY (account, month)
	);

	-- Scan runs
	CREATE TABLE IF NOT EXISTS scan_runs (
		run_id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		symbols TEXT NOT NULL,
		selected INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		selections TEXT
	);

	-- Order journal
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		limit_price TEXT,
		status TEXT NOT NULL,
		is_paper INTEGER DEFAULT 0,
		placed_at DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol ON candles(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_scan_runs_started ON scan_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account, placed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func dbError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrDatabaseError, err)
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves daily candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return dbError("failed to prepare statement", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return dbError("failed to insert candle", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("failed to commit transaction", err)
	}

	return nil
}

// GetCandles retrieves candles between from and to, oldest first.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, dbError("failed to query candles", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, dbError("failed to scan candle", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("error iterating candles", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent candle, or
// the zero time when none are cached.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol string) (time.Time, error) {
	var timestamp time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM candles WHERE symbol = ? ORDER BY timestamp DESC LIMIT 1
	`, symbol).Scan(&timestamp)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, dbError("failed to get candles freshness", err)
	}
	return timestamp, nil
}

// ============================================================================
// Watchlist Methods
// ============================================================================

// AddToWatchlist adds a symbol to a watchlist.
func (s *SQLiteStore) AddToWatchlist(ctx context.Context, symbol, listName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO watchlist (symbol, list_name) VALUES (?, ?)
	`, strings.ToUpper(symbol), listName)
	if err != nil {
		return dbError("failed to add to watchlist", err)
	}
	return nil
}

// RemoveFromWatchlist removes a symbol from a watchlist.
func (s *SQLiteStore) RemoveFromWatchlist(ctx context.Context, symbol, listName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM watchlist WHERE symbol = ? AND list_name = ?
	`, strings.ToUpper(symbol), listName)
	if err != nil {
		return dbError("failed to remove from watchlist", err)
	}
	return nil
}

// GetWatchlist retrieves symbols in a watchlist.
func (s *SQLiteStore) GetWatchlist(ctx context.Context, listName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol FROM watchlist WHERE list_name = ? ORDER BY id ASC
	`, listName)
	if err != nil {
		return nil, dbError("failed to query watchlist", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, dbError("failed to scan symbol", err)
		}
		symbols = append(symbols, symbol)
	}

	return symbols, rows.Err()
}

// GetAllWatchlists retrieves all watchlists.
func (s *SQLiteStore) GetAllWatchlists(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT list_name, symbol FROM watchlist ORDER BY list_name, id ASC
	`)
	if err != nil {
		return nil, dbError("failed to query watchlists", err)
	}
	defer rows.Close()

	watchlists := make(map[string][]string)
	for rows.Next() {
		var listName, symbol string
		if err := rows.Scan(&listName, &symbol); err != nil {
			return nil, dbError("failed to scan watchlist entry", err)
		}
		watchlists[listName] = append(watchlists[listName], symbol)
	}

	return watchlists, rows.Err()
}

// ============================================================================
// Premium Methods
// ============================================================================

// SavePremiumSnapshots upserts monthly premium rows for an account.
func (s *SQLiteStore) SavePremiumSnapshots(ctx context.Context, account string, snapshots []PremiumSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO premium_snapshots (account, month, net, csp_net, cc_net, orders, rolls, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return dbError("failed to prepare statement", err)
	}
	defer stmt.Close()

	for _, p := range snapshots {
		captured := p.CapturedAt
		if captured.IsZero() {
			captured = time.Now()
		}
		_, err := stmt.ExecContext(ctx, account, p.Month, p.Net.String(), p.CSPNet.String(), p.CCNet.String(),
			p.Orders, p.Rolls, captured.UTC())
		if err != nil {
			return dbError("failed to insert premium snapshot", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("failed to commit transaction", err)
	}
	return nil
}

// GetPremiumSnapshots returns the most recent months for an account, oldest first.
func (s *SQLiteStore) GetPremiumSnapshots(ctx context.Context, account string, limit int) ([]PremiumSnapshot, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT month, net, csp_net, cc_net, orders, rolls, captured_at
		FROM premium_snapshots
		WHERE account = ?
		ORDER BY month DESC
		LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, dbError("failed to query premium snapshots", err)
	}
	defer rows.Close()

	var out []PremiumSnapshot
	for rows.Next() {
		var p PremiumSnapshot
		var net, csp, cc string
		if err := rows.Scan(&p.Month, &net, &csp, &cc, &p.Orders, &p.Rolls, &p.CapturedAt); err != nil {
			return nil, dbError("failed to scan premium snapshot", err)
		}
		if p.Net, err = decimal.NewFromString(net); err != nil {
			return nil, dbError("corrupt premium value", err)
		}
		if p.CSPNet, err = decimal.NewFromString(csp); err != nil {
			return nil, dbError("corrupt premium value", err)
		}
		if p.CCNet, err = decimal.NewFromString(cc); err != nil {
			return nil, dbError("corrupt premium value", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("error iterating premium snapshots", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ============================================================================
// Scan Methods
// ============================================================================

// SaveScanRun persists a scan summary and its selections.
func (s *SQLiteStore) SaveScanRun(ctx context.Context, run *ScanRun) error {
	selections, err := json.Marshal(run.Selections)
	if err != nil {
		return fmt.Errorf("failed to marshal selections: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scan_runs (run_id, strategy, started_at, duration_ms, symbols, selected, rejected, failed, selections)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Strategy, run.StartedAt.UTC(), run.Duration.Milliseconds(), strings.Join(run.Symbols, ","),
		run.Selected, run.Rejected, run.Failed, string(selections))
	if err != nil {
		return dbError("failed to save scan run", err)
	}
	return nil
}

// GetScanRuns retrieves scan runs, newest first.
func (s *SQLiteStore) GetScanRuns(ctx context.Context, filter ScanFilter) ([]ScanRun, error) {
	query := `SELECT run_id, strategy, started_at, duration_ms, symbols, selected, rejected, failed, selections FROM scan_runs WHERE 1=1`
	var args []interface{}

	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if !filter.StartDate.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.StartDate.UTC())
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("failed to query scan runs", err)
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		var r ScanRun
		var durationMs int64
		var symbols string
		var selections sql.NullString
		if err := rows.Scan(&r.RunID, &r.Strategy, &r.StartedAt, &durationMs, &symbols,
			&r.Selected, &r.Rejected, &r.Failed, &selections); err != nil {
			return nil, dbError("failed to scan run", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if symbols != "" {
			r.Symbols = strings.Split(symbols, ",")
		}
		if selections.Valid && selections.String != "" {
			if err := json.Unmarshal([]byte(selections.String), &r.Selections); err != nil {
				return nil, dbError("corrupt scan selections", err)
			}
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// ============================================================================
// Order Journal Methods
// ============================================================================

// LogOrder records a submitted order.
func (s *SQLiteStore) LogOrder(ctx context.Context, entry *OrderEntry) error {
	placed := entry.PlacedAt
	if placed.IsZero() {
		placed = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (order_id, account, symbol, action, quantity, limit_price, status, is_paper, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.OrderID, entry.Account, entry.Symbol, entry.Action, entry.Quantity, entry.LimitPrice.String(),
		entry.Status, entry.IsPaper, placed.UTC())
	if err != nil {
		return dbError("failed to log order", err)
	}
	return nil
}

// GetOrders retrieves journal entries, newest first.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]OrderEntry, error) {
	query := `SELECT order_id, account, symbol, action, quantity, limit_price, status, is_paper, placed_at FROM orders WHERE 1=1`
	var args []interface{}

	if filter.Account != "" {
		query += " AND account = ?"
		args = append(args, filter.Account)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.IsPaper != nil {
		query += " AND is_paper = ?"
		args = append(args, *filter.IsPaper)
	}

	query += " ORDER BY placed_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("failed to query orders", err)
	}
	defer rows.Close()

	var out []OrderEntry
	for rows.Next() {
		var e OrderEntry
		var limit sql.NullString
		if err := rows.Scan(&e.OrderID, &e.Account, &e.Symbol, &e.Action, &e.Quantity, &limit,
			&e.Status, &e.IsPaper, &e.PlacedAt); err != nil {
			return nil, dbError("failed to scan order", err)
		}
		if limit.Valid && limit.String != "" {
			e.LimitPrice, _ = decimal.NewFromString(limit.String)
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

// UpdateOrderStatus updates the status of a journaled order.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE order_id = ?
	`, status, orderID)
	if err != nil {
		return dbError("failed to update order status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return dbError("failed to get rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	return nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return dbError("failed to set last sync", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}
