package domain

// OrderRequest is a single logical order intent. OrderLinkID is the
// client-assigned idempotency token: retries of the same intent must reuse
// it so the exchange executes the order at most once.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Quantity    float64
	ReduceOnly  bool
	OrderLinkID string

	// Conditional trigger, zero when unused.
	TriggerPrice     float64
	TriggerDirection TriggerDirection
}

type TriggerDirection int

const (
	TriggerNone TriggerDirection = iota
	TriggerRisesTo
	TriggerFallsTo
)

// OrderAck is the normalized acknowledgement of an accepted order.
type OrderAck struct {
	OrderID     string
	OrderLinkID string
}
