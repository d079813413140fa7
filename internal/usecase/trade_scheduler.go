package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/monitoring"
)

type CycleState string

const (
	CycleIdle       CycleState = "IDLE"
	CycleEvaluating CycleState = "EVALUATING"
	CycleCommitting CycleState = "COMMITTING"
	CycleSubmitting CycleState = "SUBMITTING"
)

type SchedulerConfig struct {
	Symbols         []string
	PerTradeCapital float64
	Leverage        int
	MaxPositions    int
	MinConfidence   float64
	CallTimeout     time.Duration
}

// TradeScheduler decides, on a fixed cadence, whether to open exactly one
// new position. Every cycle runs the same path and always returns to Idle:
// admission gates, signal, sizing, speculative capital commit, order
// submission, position record. The commit is rolled back on any failure
// after it.
type TradeScheduler struct {
	exchange    domain.Exchange
	signal      domain.SignalSource
	store       *PositionStore
	ledger      *CapitalLedger
	instruments *InstrumentCache
	cfg         SchedulerConfig
	health      *HealthTracker
	logger      *zap.Logger

	mu        sync.Mutex
	state     CycleState
	halted    bool
	lastCycle CycleOutcome
}

func NewTradeScheduler(
	exchange domain.Exchange,
	signal domain.SignalSource,
	store *PositionStore,
	ledger *CapitalLedger,
	instruments *InstrumentCache,
	cfg SchedulerConfig,
	health *HealthTracker,
	logger *zap.Logger,
) *TradeScheduler {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.55
	}
	return &TradeScheduler{
		exchange:    exchange,
		signal:      signal,
		store:       store,
		ledger:      ledger,
		instruments: instruments,
		cfg:         cfg,
		health:      health,
		logger:      logger,
		state:       CycleIdle,
	}
}

// Run executes one cycle per interval until ctx is cancelled.
func (s *TradeScheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *TradeScheduler) setState(st CycleState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current cycle state.
func (s *TradeScheduler) State() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Halt stops the scheduler from opening new positions. The risk monitor
// keeps running: closing existing risk outranks opening new risk.
func (s *TradeScheduler) Halt(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted {
		s.logger.Error("scheduler halted", zap.String("reason", reason))
	}
	s.halted = true
}

// haltOnAuthFailure halts the scheduler when err is an authentication
// failure, whichever call surfaced it. Credentials do not heal on retry.
func (s *TradeScheduler) haltOnAuthFailure(err error) {
	if errors.Is(err, domain.ErrAuthFailure) {
		s.Halt("authentication failure")
	}
}

func (s *TradeScheduler) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// LastCycle returns the outcome of the most recent cycle.
func (s *TradeScheduler) LastCycle() CycleOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}

func (s *TradeScheduler) record(result, detail, symbol string) {
	s.mu.Lock()
	s.lastCycle = CycleOutcome{At: time.Now().UTC(), Result: result, Detail: detail, Symbol: symbol}
	s.mu.Unlock()
	if result == "skipped" || result == "halted" {
		monitoring.CyclesSkipped.WithLabelValues(detail).Inc()
	}
}

// RunCycle performs a single trade cycle. It never leaves the scheduler in
// a non-Idle state, whatever branch it exits through.
func (s *TradeScheduler) RunCycle(ctx context.Context) {
	defer s.setState(CycleIdle)

	if s.Halted() {
		s.record("halted", "auth_failure", "")
		return
	}
	s.setState(CycleEvaluating)

	// Admission: position count, then capital.
	if s.store.OpenCount() >= s.cfg.MaxPositions {
		s.record("skipped", "max_positions", "")
		return
	}
	if s.ledger.Snapshot().Available < s.cfg.PerTradeCapital {
		s.record("skipped", "insufficient_capital", "")
		return
	}

	symbol, side, confidence, err := s.pickCandidate(ctx)
	if err != nil {
		s.health.SetError("scheduler", err)
		s.haltOnAuthFailure(err)
		s.record("failed", err.Error(), "")
		return
	}
	if symbol == "" {
		s.record("skipped", "no_signal", "")
		return
	}

	inst, err := s.instruments.Get(symbol)
	if err != nil {
		s.record("skipped", "unknown_instrument", symbol)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	ticker, err := s.exchange.GetTicker(callCtx, symbol)
	cancel()
	if err != nil {
		s.health.SetError("scheduler", err)
		s.haltOnAuthFailure(err)
		s.record("failed", fmt.Sprintf("ticker: %v", err), symbol)
		return
	}

	notional := s.cfg.PerTradeCapital * float64(s.cfg.Leverage)
	quantity, err := QuantityForNotional(inst, notional, ticker.LastPrice)
	if err != nil {
		s.record("skipped", "quantity_below_minimum", symbol)
		return
	}

	s.setState(CycleCommitting)
	if !s.ledger.TryCommit(s.cfg.PerTradeCapital) {
		s.record("skipped", "capital_rejected", symbol)
		return
	}

	s.setState(CycleSubmitting)
	if err := s.submit(ctx, symbol, side, quantity, ticker.LastPrice); err != nil {
		s.record("failed", err.Error(), symbol)
		return
	}

	s.health.Clear("scheduler")
	s.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", quantity),
		zap.Float64("confidence", confidence),
		zap.Float64("entry_price", ticker.LastPrice))
	s.record("opened", "", symbol)
}

// pickCandidate asks the signal source for each configured symbol, skipping
// symbols that already have a position, and returns the first candidate at
// or above the confidence floor.
func (s *TradeScheduler) pickCandidate(ctx context.Context) (string, domain.Side, float64, error) {
	var lastErr error
	for _, symbol := range s.cfg.Symbols {
		if s.store.Has(symbol) {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		side, confidence, err := s.signal.Evaluate(callCtx, symbol)
		cancel()
		if err != nil {
			lastErr = err
			s.logger.Warn("signal evaluation failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if confidence < s.cfg.MinConfidence {
			continue
		}
		return symbol, side, confidence, nil
	}
	// An errorless pass with no candidate is a normal quiet cycle.
	if lastErr != nil && errors.Is(lastErr, domain.ErrAuthFailure) {
		return "", "", 0, lastErr
	}
	return "", "", 0, nil
}

// submit places the entry order for capital that is already committed. Any
// failure releases the speculative commit so ledger and store stay paired.
func (s *TradeScheduler) submit(ctx context.Context, symbol string, side domain.Side, quantity, price float64) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.exchange.SetLeverage(callCtx, symbol, s.cfg.Leverage); err != nil {
		s.logger.Warn("set leverage failed, submitting anyway",
			zap.String("symbol", symbol), zap.Error(err))
	}

	monitoring.OrdersAttempted.Inc()
	_, err := s.exchange.PlaceOrder(callCtx, &domain.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		OrderLinkID: newOrderLinkID("opn"),
	})

	switch {
	case err == nil:
		monitoring.OrdersPlaced.Inc()

	case errors.Is(err, domain.ErrOutcomeUnknown):
		// The order may have landed. Reconcile against the exchange before
		// deciding what the ledger should say.
		filled, recErr := s.reconcileOpen(ctx, symbol)
		if recErr != nil || !filled {
			s.ledger.Release(s.cfg.PerTradeCapital)
			monitoring.OrdersFailed.Inc()
			s.health.SetError("scheduler", err)
			return fmt.Errorf("open %s: %w", symbol, err)
		}
		s.logger.Warn("order timed out but filled on exchange, keeping position",
			zap.String("symbol", symbol))

	case errors.Is(err, domain.ErrAuthFailure):
		s.ledger.Release(s.cfg.PerTradeCapital)
		monitoring.OrdersFailed.Inc()
		s.health.SetError("scheduler", err)
		s.haltOnAuthFailure(err)
		return fmt.Errorf("open %s: %w", symbol, err)

	default:
		s.ledger.Release(s.cfg.PerTradeCapital)
		monitoring.OrdersFailed.Inc()
		s.health.SetError("scheduler", err)
		return fmt.Errorf("open %s: %w", symbol, err)
	}

	if err := s.store.OpenPreCommitted(symbol, side, quantity, price, s.cfg.PerTradeCapital, s.cfg.Leverage); err != nil {
		// The order is live but the record failed; releasing here would
		// break the capital/position pairing, so keep the commit and scream.
		s.logger.Error("order placed but position record failed",
			zap.String("symbol", symbol), zap.Error(err))
		s.health.SetError("scheduler", domain.ErrInvariantViolation)
		return fmt.Errorf("record %s: %w", symbol, domain.ErrInvariantViolation)
	}
	return nil
}

// reconcileOpen queries the exchange to learn whether a timed-out entry
// order actually filled.
func (s *TradeScheduler) reconcileOpen(ctx context.Context, symbol string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	pos, err := s.exchange.GetPosition(callCtx, symbol)
	if err != nil {
		return false, err
	}
	return pos.Size > 0, nil
}
