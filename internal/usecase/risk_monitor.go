package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/monitoring"
)

type RiskMonitorConfig struct {
	TrailingPct      float64       // e.g. 0.005 for 0.5%
	MaxHolding       time.Duration // hard time-based exit
	MaxCloseAttempts int           // Closing -> Failed escalation threshold
	CallTimeout      time.Duration // per outbound call
}

// RiskMonitor drives every Open position: tracks price, advances the
// trailing stop in the favorable direction only, and forces closure when
// the stop is crossed or the holding limit lapses. A position never
// increases risk once opened.
type RiskMonitor struct {
	exchange domain.Exchange
	store    *PositionStore
	cfg      RiskMonitorConfig
	health   *HealthTracker
	logger   *zap.Logger
}

func NewRiskMonitor(exchange domain.Exchange, store *PositionStore, cfg RiskMonitorConfig, health *HealthTracker, logger *zap.Logger) *RiskMonitor {
	if cfg.MaxCloseAttempts <= 0 {
		cfg.MaxCloseAttempts = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &RiskMonitor{
		exchange: exchange,
		store:    store,
		cfg:      cfg,
		health:   health,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled, then drains in-flight closes.
func (m *RiskMonitor) Run(ctx context.Context, interval time.Duration, shutdownTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			m.DrainCloses(drainCtx)
			cancel()
			return
		}
	}
}

// Tick assesses every tracked position once. An error on one position never
// aborts the tick for the others.
func (m *RiskMonitor) Tick(ctx context.Context) {
	var tickErr error
	for _, p := range m.store.List() {
		switch p.State {
		case domain.StateOpen:
			if err := m.assess(ctx, p); err != nil {
				tickErr = err
				m.logger.Warn("monitor tick skipped position",
					zap.String("symbol", p.Symbol), zap.Error(err))
			}
		case domain.StateClosing:
			if err := m.submitClose(ctx, p); err != nil {
				tickErr = err
			}
		case domain.StateFailed:
			m.reconcileFailed(ctx, p)
		}
	}
	m.health.SetError("risk_monitor", tickErr)
}

// assess evaluates one Open position against the current price.
func (m *RiskMonitor) assess(ctx context.Context, p domain.Position) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	ticker, err := m.exchange.GetTicker(callCtx, p.Symbol)
	cancel()
	if err != nil {
		// Never close on missing data; wait for the next tick.
		return fmt.Errorf("price fetch %s: %w", p.Symbol, err)
	}
	price := ticker.LastPrice

	assessment := m.evaluate(&p, price)
	m.store.AdvanceStop(p.Symbol, assessment.Price, candidateStop(p.Side, assessment.Price, p.WaterMark, m.cfg.TrailingPct))

	if !assessment.Intervene {
		return nil
	}

	link := newOrderLinkID("cls")
	if _, err := m.store.MarkClosing(p.Symbol, assessment.Reason, link); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosing) {
			return nil
		}
		return err
	}
	m.logger.Info("closing position",
		zap.String("symbol", p.Symbol),
		zap.String("reason", assessment.Reason),
		zap.Float64("price", price),
		zap.Float64("stop", p.TrailingStop),
		zap.Float64("unrealized_pnl", assessment.UnrealizedPnL))

	updated, ok := m.store.Get(p.Symbol)
	if !ok {
		return nil
	}
	return m.submitClose(ctx, updated)
}

// evaluate derives the per-tick risk assessment. Pure; exercised directly
// in tests.
func (m *RiskMonitor) evaluate(p *domain.Position, price float64) domain.RiskAssessment {
	a := domain.RiskAssessment{
		Symbol:        p.Symbol,
		Price:         price,
		UnrealizedPnL: p.UnrealizedPnL(price),
	}

	stop := p.TrailingStop
	candidate := candidateStop(p.Side, price, p.WaterMark, m.cfg.TrailingPct)
	if p.Side == domain.SideLong {
		if candidate > stop {
			stop = candidate
		}
		a.StopDistance = price - stop
		if price <= stop {
			a.Intervene = true
			a.Reason = "trailing_stop"
		}
	} else {
		if candidate < stop {
			stop = candidate
		}
		a.StopDistance = stop - price
		if price >= stop {
			a.Intervene = true
			a.Reason = "trailing_stop"
		}
	}

	if !a.Intervene && m.cfg.MaxHolding > 0 && time.Since(p.OpenedAt) > m.cfg.MaxHolding {
		a.Intervene = true
		a.Reason = "max_holding"
	}
	return a
}

// candidateStop computes the stop implied by the best price seen so far.
func candidateStop(side domain.Side, price, waterMark float64, trailingPct float64) float64 {
	mark := waterMark
	if side == domain.SideLong {
		if price > mark {
			mark = price
		}
		return mark * (1 - trailingPct)
	}
	if price < mark {
		mark = price
	}
	return mark * (1 + trailingPct)
}

// submitClose sends the reduce-only close order for a Closing position and
// completes the lifecycle according to the outcome.
func (m *RiskMonitor) submitClose(ctx context.Context, p domain.Position) error {
	attempts := m.store.RecordCloseAttempt(p.Symbol)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	monitoring.OrdersAttempted.Inc()
	_, err := m.exchange.PlaceOrder(callCtx, &domain.OrderRequest{
		Symbol:      p.Symbol,
		Side:        p.Side.Opposite(),
		Quantity:    p.Quantity,
		ReduceOnly:  true,
		OrderLinkID: p.CloseOrderLink,
	})

	switch {
	case err == nil:
		monitoring.OrdersPlaced.Inc()
		return m.finalizeClose(ctx, p)

	case errors.Is(err, domain.ErrNoSuchPosition):
		// Already flat on the exchange (manual intervention or a prior
		// retry landed). Record reality, not our bookkeeping.
		m.logger.Warn("exchange reports no position, treating close as done",
			zap.String("symbol", p.Symbol))
		return m.finalizeClose(ctx, p)

	case errors.Is(err, domain.ErrOutcomeUnknown):
		return m.reconcileUnknown(ctx, p)

	default:
		monitoring.OrdersFailed.Inc()
		if attempts >= m.cfg.MaxCloseAttempts {
			m.store.Fail(ctx, p.Symbol, fmt.Sprintf("close rejected after %d attempts: %v", attempts, err))
			return err
		}
		m.logger.Warn("close order failed, will retry next tick",
			zap.String("symbol", p.Symbol), zap.Int("attempt", attempts), zap.Error(err))
		return err
	}
}

// finalizeClose fetches an exit price and moves the position to Closed.
func (m *RiskMonitor) finalizeClose(ctx context.Context, p domain.Position) error {
	exitPrice := p.EntryPrice
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	if ticker, err := m.exchange.GetTicker(callCtx, p.Symbol); err == nil {
		exitPrice = ticker.LastPrice
	}
	cancel()

	pnl, err := m.store.Close(ctx, p.Symbol, exitPrice)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	m.logger.Info("position closed",
		zap.String("symbol", p.Symbol),
		zap.String("reason", p.CloseReason),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("realized_pnl", pnl))
	return nil
}

// reconcileUnknown resolves a timed-out close by querying exchange state.
func (m *RiskMonitor) reconcileUnknown(ctx context.Context, p domain.Position) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	pos, err := m.exchange.GetPosition(callCtx, p.Symbol)
	if err != nil {
		m.logger.Warn("close outcome unknown and reconcile failed, retrying next tick",
			zap.String("symbol", p.Symbol), zap.Error(err))
		return err
	}
	if pos.Size == 0 {
		return m.finalizeClose(ctx, p)
	}
	// Order never landed; stay Closing and retry next tick.
	return nil
}

// reconcileFailed keeps re-querying the exchange for a Failed position so
// bookkeeping converges with reality once the venue answers.
func (m *RiskMonitor) reconcileFailed(ctx context.Context, p domain.Position) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	pos, err := m.exchange.GetPosition(callCtx, p.Symbol)
	if err != nil {
		return
	}
	if pos.Size == 0 {
		if _, err := m.store.Close(ctx, p.Symbol, p.EntryPrice); err == nil {
			m.logger.Info("failed position resolved: exchange is flat",
				zap.String("symbol", p.Symbol))
		}
	}
}

// DrainCloses makes one best-effort close pass over every position that is
// not yet Closed. Called on shutdown: leaving positions unmonitored is the
// worst failure mode, so we try to flatten before exiting.
func (m *RiskMonitor) DrainCloses(ctx context.Context) {
	for _, p := range m.store.List() {
		if p.State == domain.StateFailed {
			continue
		}
		if p.State == domain.StateOpen {
			link := newOrderLinkID("cls")
			if _, err := m.store.MarkClosing(p.Symbol, "shutdown", link); err != nil && !errors.Is(err, domain.ErrAlreadyClosing) {
				continue
			}
		}
		updated, ok := m.store.Get(p.Symbol)
		if !ok {
			continue
		}
		if err := m.submitClose(ctx, updated); err != nil {
			m.logger.Error("shutdown drain could not close position",
				zap.String("symbol", p.Symbol), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
