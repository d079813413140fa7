package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/monitoring"
)

// PositionStore is the authoritative map of open positions and their
// lifecycle state machine. Every mutation is bracketed with the matching
// ledger transaction under one lock, so no window exists where capital is
// committed without a recorded position or vice versa.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	recent    []*domain.PositionHistory

	ledger    *CapitalLedger
	tradeRepo domain.TradeRepository
	logger    *zap.Logger

	trailingPct float64
}

const recentHistorySize = 50

func NewPositionStore(ledger *CapitalLedger, tradeRepo domain.TradeRepository, trailingPct float64, logger *zap.Logger) *PositionStore {
	return &PositionStore{
		positions:   make(map[string]*domain.Position),
		ledger:      ledger,
		tradeRepo:   tradeRepo,
		logger:      logger,
		trailingPct: trailingPct,
	}
}

// Open records a freshly filled position. The ledger commit and the map
// insert happen under the store lock; a denied commit leaves no trace.
func (s *PositionStore) Open(symbol string, side domain.Side, quantity, entryPrice, committed float64, leverage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.positions[symbol]; ok && existing.State != domain.StateClosed {
		return fmt.Errorf("%s: %w", symbol, domain.ErrDuplicatePosition)
	}
	if !s.ledger.TryCommit(committed) {
		return fmt.Errorf("%s: commit %.2f: %w", symbol, committed, domain.ErrCapitalRejected)
	}

	s.positions[symbol] = &domain.Position{
		Symbol:       symbol,
		Side:         side,
		State:        domain.StateOpen,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		Committed:    committed,
		Leverage:     leverage,
		OpenedAt:     time.Now().UTC(),
		TrailingStop: initialStop(side, entryPrice, s.trailingPct),
		WaterMark:    entryPrice,
	}
	monitoring.PositionsOpened.Inc()
	monitoring.OpenPositions.Set(float64(s.openCountLocked()))
	return nil
}

// OpenPreCommitted records a position whose capital was already committed by
// the caller (the scheduler commits speculatively before submitting the
// order). The duplicate check still runs; on failure the caller must release.
func (s *PositionStore) OpenPreCommitted(symbol string, side domain.Side, quantity, entryPrice, committed float64, leverage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.positions[symbol]; ok && existing.State != domain.StateClosed {
		return fmt.Errorf("%s: %w", symbol, domain.ErrDuplicatePosition)
	}

	s.positions[symbol] = &domain.Position{
		Symbol:       symbol,
		Side:         side,
		State:        domain.StateOpen,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		Committed:    committed,
		Leverage:     leverage,
		OpenedAt:     time.Now().UTC(),
		TrailingStop: initialStop(side, entryPrice, s.trailingPct),
		WaterMark:    entryPrice,
	}
	monitoring.PositionsOpened.Inc()
	monitoring.OpenPositions.Set(float64(s.openCountLocked()))
	return nil
}

func initialStop(side domain.Side, entryPrice, trailingPct float64) float64 {
	if side == domain.SideLong {
		return entryPrice * (1 - trailingPct)
	}
	return entryPrice * (1 + trailingPct)
}

// MarkClosing moves a position into Closing and stamps the close intent with
// an idempotency token. A second trigger while Closing is a no-op reported
// as ErrAlreadyClosing so callers can skip quietly.
func (s *PositionStore) MarkClosing(symbol, reason, orderLinkID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok || p.State == domain.StateClosed {
		return domain.Position{}, fmt.Errorf("%s: %w", symbol, domain.ErrNotFound)
	}
	if p.State == domain.StateClosing {
		return *p, domain.ErrAlreadyClosing
	}
	if p.State == domain.StateFailed {
		return *p, fmt.Errorf("%s is failed: %w", symbol, domain.ErrInvariantViolation)
	}

	p.State = domain.StateClosing
	p.CloseReason = reason
	p.CloseOrderLink = orderLinkID
	p.CloseAttempts = 0
	return *p, nil
}

// RecordCloseAttempt bumps the retry counter for a Closing position and
// returns the new count.
func (s *PositionStore) RecordCloseAttempt(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[symbol]; ok {
		p.CloseAttempts++
		return p.CloseAttempts
	}
	return 0
}

// Close finalizes a position: releases committed capital, folds realized
// P&L into the ledger, appends the history record and drops the symbol from
// the open map. Returns the realized P&L.
func (s *PositionStore) Close(ctx context.Context, symbol string, exitPrice float64) (float64, error) {
	s.mu.Lock()

	p, ok := s.positions[symbol]
	if !ok || p.State == domain.StateClosed {
		s.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", symbol, domain.ErrNotFound)
	}

	pnl := p.UnrealizedPnL(exitPrice)
	s.ledger.Release(p.Committed)
	s.ledger.RecordRealized(pnl)

	record := &domain.PositionHistory{
		Symbol:      p.Symbol,
		Side:        p.Side,
		Quantity:    p.Quantity,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		Committed:   p.Committed,
		Leverage:    p.Leverage,
		State:       domain.StateClosed,
		CloseReason: p.CloseReason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    time.Now().UTC(),
	}
	delete(s.positions, symbol)
	s.appendRecentLocked(record)
	monitoring.PositionsClosed.Inc()
	monitoring.RealizedPnL.Add(pnl)
	monitoring.OpenPositions.Set(float64(s.openCountLocked()))
	s.mu.Unlock()

	// Persistence is audit, not control flow: a failed write must not block
	// the lifecycle, but it is loud.
	if err := s.tradeRepo.SavePositionHistory(ctx, record); err != nil {
		s.logger.Error("failed to persist position history",
			zap.String("symbol", symbol), zap.Error(err))
	}
	return pnl, nil
}

// Fail marks a position terminally Failed: the close order kept being
// rejected and exchange state is unknown. Capital stays committed until an
// operator (or recovery reconciliation) resolves it.
func (s *PositionStore) Fail(ctx context.Context, symbol, reason string) {
	s.mu.Lock()
	p, ok := s.positions[symbol]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.State = domain.StateFailed
	p.CloseReason = reason
	record := &domain.PositionHistory{
		Symbol:      p.Symbol,
		Side:        p.Side,
		Quantity:    p.Quantity,
		EntryPrice:  p.EntryPrice,
		RealizedPnL: 0,
		Committed:   p.Committed,
		Leverage:    p.Leverage,
		State:       domain.StateFailed,
		CloseReason: reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    time.Now().UTC(),
	}
	s.appendRecentLocked(record)
	s.mu.Unlock()

	s.logger.Error("position marked failed, capital remains committed",
		zap.String("symbol", symbol), zap.String("reason", reason))
	if err := s.tradeRepo.SavePositionHistory(ctx, record); err != nil {
		s.logger.Error("failed to persist failed-position record",
			zap.String("symbol", symbol), zap.Error(err))
	}
	if err := s.tradeRepo.SaveSessionEvent(ctx, "position_store", "error",
		fmt.Sprintf("position %s failed: %s", symbol, reason)); err != nil {
		s.logger.Warn("failed to persist session event", zap.Error(err))
	}
}

// AdvanceStop updates the water mark and trailing stop for a position. The
// stop only ever moves in the position's favor; an adverse candidate value
// is ignored.
func (s *PositionStore) AdvanceStop(symbol string, waterMark, stop float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return
	}
	if p.Side == domain.SideLong {
		if waterMark > p.WaterMark {
			p.WaterMark = waterMark
		}
		if stop > p.TrailingStop {
			p.TrailingStop = stop
		}
	} else {
		if waterMark < p.WaterMark {
			p.WaterMark = waterMark
		}
		if stop < p.TrailingStop {
			p.TrailingStop = stop
		}
	}
}

// Get returns a copy of the position for symbol.
func (s *PositionStore) Get(symbol string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Has reports whether symbol currently has a non-Closed entry.
func (s *PositionStore) Has(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return ok && p.State != domain.StateClosed
}

// List returns a copy-on-read snapshot of all tracked positions.
func (s *PositionStore) List() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCount counts positions that still tie up capital (everything not
// Closed, including Failed).
func (s *PositionStore) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openCountLocked()
}

func (s *PositionStore) openCountLocked() int {
	n := 0
	for _, p := range s.positions {
		if p.State != domain.StateClosed {
			n++
		}
	}
	return n
}

// Recent returns the most recent closed/failed records, newest first.
func (s *PositionStore) Recent(limit int) []*domain.PositionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]*domain.PositionHistory, limit)
	for i := 0; i < limit; i++ {
		rec := *s.recent[len(s.recent)-1-i]
		out[i] = &rec
	}
	return out
}

func (s *PositionStore) appendRecentLocked(rec *domain.PositionHistory) {
	s.recent = append(s.recent, rec)
	if len(s.recent) > recentHistorySize {
		s.recent = s.recent[len(s.recent)-recentHistorySize:]
	}
}
