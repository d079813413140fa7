package usecase

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// HealthTracker records the last error per subsystem so the status surface
// can expose a degraded/healthy flag without coupling subsystems together.
type HealthTracker struct {
	mu       sync.Mutex
	lastErrs map[string]string
	when     map[string]time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		lastErrs: make(map[string]string),
		when:     make(map[string]time.Time),
	}
}

func (h *HealthTracker) SetError(subsystem string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.lastErrs, subsystem)
		delete(h.when, subsystem)
		return
	}
	h.lastErrs[subsystem] = err.Error()
	h.when[subsystem] = time.Now().UTC()
}

func (h *HealthTracker) Clear(subsystem string) {
	h.SetError(subsystem, nil)
}

// Snapshot returns a copy of per-subsystem errors and the overall flag.
func (h *HealthTracker) Snapshot() (map[string]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.lastErrs))
	for k, v := range h.lastErrs {
		out[k] = v
	}
	return out, len(out) == 0
}

// CycleOutcome describes the last scheduler cycle for the status surface.
type CycleOutcome struct {
	At     time.Time `json:"at"`
	Result string    `json:"result"` // opened | skipped | failed | halted
	Detail string    `json:"detail,omitempty"`
	Symbol string    `json:"symbol,omitempty"`
}

// EngineStatus is the read-only snapshot polled by dashboards and CLIs.
type EngineStatus struct {
	Positions []domain.Position         `json:"positions"`
	Ledger    LedgerSnapshot            `json:"ledger"`
	Recent    []*domain.PositionHistory `json:"recent_trades"`
	LastCycle CycleOutcome              `json:"last_cycle"`
	Errors    map[string]string         `json:"errors"`
	Healthy   bool                      `json:"healthy"`
}

// Engine bundles the shared state the status surface reads from.
type Engine struct {
	Store     *PositionStore
	Ledger    *CapitalLedger
	Scheduler *TradeScheduler
	Health    *HealthTracker
}

// Status assembles the read-only snapshot consumed by the web layer and
// operator tooling.
func (e *Engine) Status() EngineStatus {
	errs, healthy := e.Health.Snapshot()
	return EngineStatus{
		Positions: e.Store.List(),
		Ledger:    e.Ledger.Snapshot(),
		Recent:    e.Store.Recent(20),
		LastCycle: e.Scheduler.LastCycle(),
		Errors:    errs,
		Healthy:   healthy,
	}
}

// newOrderLinkID generates a client order id for one logical intent. The
// same id is reused across retries of that intent.
func newOrderLinkID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return prefix + "-" + hex.EncodeToString([]byte(time.Now().Format("150405.000")))
	}
	return prefix + "-" + hex.EncodeToString(buf)
}
