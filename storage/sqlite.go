package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gridmesh/logger"
	"gridmesh/utils"
)

// 交易器运行状态
const (
	StatusRunning    = "running"
	StatusStopped    = "stopped"
	StatusLiquidated = "liquidated"
)

// TraderState 交易器持久化状态
type TraderState struct {
	Symbol        string
	BasePrice     float64
	GridSizePct   float64
	PositionQty   float64
	AvgCost       float64
	MaxProfitSeen float64
	RiskState     string
	Status        string // running / stopped / liquidated
	UpdatedAt     time.Time
}

// TradeRow 成交记录
type TradeRow struct {
	ID            int64
	Symbol        string
	Side          string
	Price         float64
	Quantity      float64
	QuoteAmount   float64
	ClientOrderID string
	CreatedAt     time.Time
}

// AlertRow 告警记录
type AlertRow struct {
	ID        int64
	Level     string
	Title     string
	Body      string
	CreatedAt time.Time
}

// SQLiteStorage SQLite 存储实现
type SQLiteStorage struct {
	db        *sql.DB
	maxTrades int
}

// NewSQLiteStorage 创建 SQLite 存储
func NewSQLiteStorage(path string, maxTrades int) (*SQLiteStorage, error) {
	if maxTrades <= 0 {
		maxTrades = 1000
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 并发限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	logger.Info("✅ SQLite 存储已打开: %s", path)
	return &SQLiteStorage{db: db, maxTrades: maxTrades}, nil
}

func createTables(db *sql.DB) error {
	stateSQL := `
	CREATE TABLE IF NOT EXISTS trader_state (
		symbol TEXT PRIMARY KEY,
		base_price DECIMAL(20,8),
		grid_size_pct DECIMAL(10,4),
		position_qty DECIMAL(20,8),
		avg_cost DECIMAL(20,8),
		max_profit_seen DECIMAL(20,8),
		risk_state TEXT,
		status TEXT,
		updated_at TIMESTAMP
	);`

	tradesSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT,
		side TEXT,
		price DECIMAL(20,8),
		quantity DECIMAL(20,8),
		quote_amount DECIMAL(20,8),
		client_order_id TEXT UNIQUE,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);`

	alertsSQL := `
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT,
		title TEXT,
		body TEXT,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);`

	for _, stmt := range []string{stateSQL, tradesSQL, alertsSQL} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveState 保存交易器状态（upsert）
func (s *SQLiteStorage) SaveState(state *TraderState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	status := state.Status
	if status == "" {
		status = StatusRunning
	}

	_, err = tx.Exec(`
		INSERT INTO trader_state
			(symbol, base_price, grid_size_pct, position_qty, avg_cost, max_profit_seen, risk_state, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			base_price = excluded.base_price,
			grid_size_pct = excluded.grid_size_pct,
			position_qty = excluded.position_qty,
			avg_cost = excluded.avg_cost,
			max_profit_seen = excluded.max_profit_seen,
			risk_state = excluded.risk_state,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		state.Symbol, state.BasePrice, state.GridSizePct, state.PositionQty,
		state.AvgCost, state.MaxProfitSeen, state.RiskState, status, utils.NowUTC())
	if err != nil {
		return fmt.Errorf("保存状态失败: %w", err)
	}

	return tx.Commit()
}

// LoadState 加载交易器状态，不存在返回 nil
func (s *SQLiteStorage) LoadState(symbol string) (*TraderState, error) {
	row := s.db.QueryRow(`
		SELECT symbol, base_price, grid_size_pct, position_qty, avg_cost, max_profit_seen, risk_state, status, updated_at
		FROM trader_state WHERE symbol = ?`, symbol)

	state := &TraderState{}
	err := row.Scan(&state.Symbol, &state.BasePrice, &state.GridSizePct, &state.PositionQty,
		&state.AvgCost, &state.MaxProfitSeen, &state.RiskState, &state.Status, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("加载状态失败: %w", err)
	}
	return state, nil
}

// SaveTrade 保存成交记录并裁剪超量历史
func (s *SQLiteStorage) SaveTrade(trade *TradeRow) error {
	// 落库时间统一UTC，查询时转回配置时区
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = utils.NowUTC()
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO trades (symbol, side, price, quantity, quote_amount, client_order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		trade.Symbol, trade.Side, trade.Price, trade.Quantity,
		trade.QuoteAmount, trade.ClientOrderID, trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("保存成交记录失败: %w", err)
	}

	return s.trimTrades(trade.Symbol)
}

// SaveTradeRecord 按字段保存成交记录
func (s *SQLiteStorage) SaveTradeRecord(symbol, side string, price, quantity, quoteAmount float64, clientOrderID string, createdAt time.Time) error {
	return s.SaveTrade(&TradeRow{
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Quantity:      quantity,
		QuoteAmount:   quoteAmount,
		ClientOrderID: clientOrderID,
		CreatedAt:     createdAt,
	})
}

// trimTrades 按交易对裁剪到 maxTrades 条（删最旧）
func (s *SQLiteStorage) trimTrades(symbol string) error {
	_, err := s.db.Exec(`
		DELETE FROM trades WHERE symbol = ? AND id NOT IN (
			SELECT id FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?
		)`, symbol, symbol, s.maxTrades)
	if err != nil {
		return fmt.Errorf("裁剪成交记录失败: %w", err)
	}
	return nil
}

// RecentTrades 查询最近 N 条成交（新在前）
func (s *SQLiteStorage) RecentTrades(symbol string, limit int) ([]*TradeRow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, symbol, side, price, quantity, quote_amount, client_order_id, created_at
		FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	defer rows.Close()

	var trades []*TradeRow
	for rows.Next() {
		t := &TradeRow{}
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Price, &t.Quantity,
			&t.QuoteAmount, &t.ClientOrderID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = utils.ToConfiguredTimezone(t.CreatedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveAlert 保存告警记录
func (s *SQLiteStorage) SaveAlert(level, title, body string, createdAt time.Time) error {
	if createdAt.IsZero() {
		createdAt = utils.NowUTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (level, title, body, created_at) VALUES (?, ?, ?, ?)`,
		level, title, body, createdAt)
	if err != nil {
		return fmt.Errorf("保存告警失败: %w", err)
	}
	return nil
}

// RecentAlerts 查询最近 N 条告警（新在前）
func (s *SQLiteStorage) RecentAlerts(limit int) ([]*AlertRow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, level, title, body, created_at
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	defer rows.Close()

	var alerts []*AlertRow
	for rows.Next() {
		a := &AlertRow{}
		if err := rows.Scan(&a.ID, &a.Level, &a.Title, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = utils.ToConfiguredTimezone(a.CreatedAt)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close 关闭数据库
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
