package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_attempted_total", Help: "Order intents submitted to the exchange"})
	OrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_placed_total", Help: "Orders acknowledged by the exchange"})
	OrdersFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_failed_total", Help: "Orders that failed after retries"})
	PositionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_positions_opened_total", Help: "Positions recorded in the store"})
	PositionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_positions_closed_total", Help: "Positions closed and released"})
	CyclesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_cycles_skipped_total", Help: "Trade cycles aborted before submission"},
		[]string{"reason"})
	LedgerClamped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_ledger_release_clamped_total", Help: "Capital releases clamped at zero (inconsistency)"})
	CommittedCapital = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_committed_capital", Help: "Quote capital currently committed to open positions"})
	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_open_positions", Help: "Positions currently held"})
	// Gauge, not counter: losses move it down.
	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_realized_pnl_quote", Help: "Cumulative realized P&L in quote currency"})
)

func init() {
	prometheus.MustRegister(
		OrdersAttempted, OrdersPlaced, OrdersFailed,
		PositionsOpened, PositionsClosed, CyclesSkipped,
		LedgerClamped, CommittedCapital, OpenPositions, RealizedPnL,
	)
}
