package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// SQLiteStore persists the append-only audit trail: closed positions and
// session events.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			committed REAL NOT NULL,
			leverage INTEGER NOT NULL,
			state TEXT NOT NULL,
			close_reason TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_symbol ON position_history(symbol);`,
		`CREATE TABLE IF NOT EXISTS session_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subsystem TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	query := `INSERT INTO position_history (symbol, side, quantity, entry_price, exit_price, realized_pnl, committed, leverage, state, close_reason, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		h.Symbol, string(h.Side), h.Quantity, h.EntryPrice, h.ExitPrice,
		h.RealizedPnL, h.Committed, h.Leverage, string(h.State), h.CloseReason,
		h.OpenedAt, h.ClosedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, symbol, side, quantity, entry_price, exit_price, realized_pnl, committed, leverage, state, close_reason, opened_at, closed_at
			  FROM position_history ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var side, state string
		if err := rows.Scan(&h.ID, &h.Symbol, &side, &h.Quantity, &h.EntryPrice, &h.ExitPrice,
			&h.RealizedPnL, &h.Committed, &h.Leverage, &state, &h.CloseReason,
			&h.OpenedAt, &h.ClosedAt); err != nil {
			return nil, err
		}
		h.Side = domain.Side(side)
		h.State = domain.PositionState(state)
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) SaveSessionEvent(ctx context.Context, subsystem, level, message string) error {
	query := `INSERT INTO session_log (subsystem, level, message, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, subsystem, level, message, time.Now().UTC())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
