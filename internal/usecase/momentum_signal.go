package usecase

import (
	"context"
	"fmt"
	"math"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// MomentumSignal is the default SignalSource: it compares the mean close of
// a short recent window against a longer one and reads the divergence as
// direction plus confidence. Any other SignalSource can be injected in its
// place; the engine only sees the interface.
type MomentumSignal struct {
	exchange    domain.Exchange
	interval    string
	shortWindow int
	longWindow  int
}

func NewMomentumSignal(exchange domain.Exchange) *MomentumSignal {
	return &MomentumSignal{
		exchange:    exchange,
		interval:    "5", // 5-minute candles
		shortWindow: 5,
		longWindow:  20,
	}
}

func (m *MomentumSignal) Evaluate(ctx context.Context, symbol string) (domain.Side, float64, error) {
	candles, err := m.exchange.GetCandles(ctx, symbol, m.interval, m.longWindow)
	if err != nil {
		return "", 0, err
	}
	if len(candles) < m.longWindow {
		return "", 0, fmt.Errorf("signal %s: only %d candles", symbol, len(candles))
	}

	longMean := meanClose(candles)
	shortMean := meanClose(candles[len(candles)-m.shortWindow:])
	if longMean <= 0 {
		return "", 0, fmt.Errorf("signal %s: degenerate closes", symbol)
	}

	// Normalized divergence: 0.5% spread between the windows maps to full
	// confidence, linearly below that.
	divergence := (shortMean - longMean) / longMean
	confidence := math.Min(math.Abs(divergence)/0.005, 1.0)

	side := domain.SideLong
	if divergence < 0 {
		side = domain.SideShort
	}
	return side, confidence, nil
}

func meanClose(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Close
	}
	return sum / float64(len(candles))
}
