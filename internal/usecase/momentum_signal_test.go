package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/usecase"
)

func candlesFromCloses(closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Time: int64(i * 300), Close: c}
	}
	return out
}

func TestMomentumSignal_RisingMarketIsLong(t *testing.T) {
	ex := NewMockExchange()
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i) // steady climb
	}
	ex.Candles["BTCUSDT"] = candlesFromCloses(closes)

	sig := usecase.NewMomentumSignal(ex)
	side, confidence, err := sig.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.SideLong, side)
	assert.Greater(t, confidence, 0.5)
	assert.LessOrEqual(t, confidence, 1.0)
}

func TestMomentumSignal_FallingMarketIsShort(t *testing.T) {
	ex := NewMockExchange()
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	ex.Candles["ETHUSDT"] = candlesFromCloses(closes)

	sig := usecase.NewMomentumSignal(ex)
	side, confidence, err := sig.Evaluate(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, side)
	assert.Greater(t, confidence, 0.0)
}

func TestMomentumSignal_FlatMarketLowConfidence(t *testing.T) {
	ex := NewMockExchange()
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	ex.Candles["SOLUSDT"] = candlesFromCloses(closes)

	sig := usecase.NewMomentumSignal(ex)
	_, confidence, err := sig.Evaluate(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0, confidence)
}

func TestMomentumSignal_InsufficientData(t *testing.T) {
	ex := NewMockExchange()
	ex.Candles["BTCUSDT"] = candlesFromCloses([]float64{100, 101})

	sig := usecase.NewMomentumSignal(ex)
	_, _, err := sig.Evaluate(context.Background(), "BTCUSDT")
	require.Error(t, err)
}
