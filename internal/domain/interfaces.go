package domain

import "context"

// Exchange is the gateway to the derivatives venue. All calls are safe for
// concurrent use; failures are classified per errors.go.
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetWalletBalance(ctx context.Context) (*WalletBalance, error)
	GetInstruments(ctx context.Context) ([]Instrument, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetPosition(ctx context.Context, symbol string) (*ExchangePosition, error)
	GetPositions(ctx context.Context) ([]*ExchangePosition, error)
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderAck, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// SignalSource produces a directional candidate for a symbol. The engine
// treats it as a black box: any implementation returning a side and a
// confidence in [0,1] works.
type SignalSource interface {
	Evaluate(ctx context.Context, symbol string) (Side, float64, error)
}

// TradeRepository persists the append-only audit trail.
type TradeRepository interface {
	SavePositionHistory(ctx context.Context, h *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)
	SaveSessionEvent(ctx context.Context, subsystem, level, message string) error
}
