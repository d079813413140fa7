package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/monitoring"
)

// LedgerSnapshot is a consistent read of the ledger.
type LedgerSnapshot struct {
	Total     float64 `json:"total"`
	Reserve   float64 `json:"reserve"`
	Committed float64 `json:"committed"`
	Available float64 `json:"available"`
}

// CapitalLedger gates every position open/close through an atomic capital
// transaction. Invariant: committed <= total - reserve, committed >= 0.
type CapitalLedger struct {
	mu        sync.Mutex
	total     float64
	reserve   float64
	committed float64
	logger    *zap.Logger
}

func NewCapitalLedger(total, reserve float64, logger *zap.Logger) *CapitalLedger {
	return &CapitalLedger{
		total:   total,
		reserve: reserve,
		logger:  logger,
	}
}

// TryCommit reserves amount for a new position. It succeeds only if the
// commitment fits under total - reserve.
func (l *CapitalLedger) TryCommit(amount float64) bool {
	if amount <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.committed+amount > l.total-l.reserve {
		return false
	}
	l.committed += amount
	monitoring.CommittedCapital.Set(l.committed)
	return true
}

// Release returns amount to the available pool. It never fails; a release
// that would drive committed negative is clamped at zero and logged as an
// inconsistency, since it means a release without a matching commit.
func (l *CapitalLedger) Release(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.committed {
		l.logger.Error("ledger release clamped at zero",
			zap.Float64("requested", amount),
			zap.Float64("committed", l.committed))
		monitoring.LedgerClamped.Inc()
		l.committed = 0
	} else {
		l.committed -= amount
	}
	monitoring.CommittedCapital.Set(l.committed)
}

// RecordRealized folds realized P&L into total capital on close. Losses can
// shrink total below reserve + committed only transiently; the next
// TryCommit re-checks against the updated total.
func (l *CapitalLedger) RecordRealized(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += pnl
	if l.total < 0 {
		l.total = 0
	}
}

func (l *CapitalLedger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	available := l.total - l.reserve - l.committed
	if available < 0 {
		available = 0
	}
	return LedgerSnapshot{
		Total:     l.total,
		Reserve:   l.reserve,
		Committed: l.committed,
		Available: available,
	}
}
