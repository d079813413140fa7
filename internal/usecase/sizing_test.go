package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/usecase"
)

func TestQuantityForNotional_FloorsToStep(t *testing.T) {
	inst := &domain.Instrument{Symbol: "LTCUSDT", MinQty: 0.1, MaxQty: 100, QtyStep: 0.1}

	// notional 50 at price 23.78: raw 2.1027... floors to 2.1.
	qty, err := usecase.QuantityForNotional(inst, 50, 23.78)
	require.NoError(t, err)
	assert.Equal(t, 2.1, qty)
}

func TestQuantityForNotional_BelowMinimumRejected(t *testing.T) {
	inst := &domain.Instrument{Symbol: "BTCUSDT", MinQty: 0.001, MaxQty: 100, QtyStep: 0.001}

	_, err := usecase.QuantityForNotional(inst, 10, 50000) // raw 0.0002
	require.ErrorIs(t, err, domain.ErrRejectedByExchange)
}

func TestQuantityForNotional_ClampsToMax(t *testing.T) {
	inst := &domain.Instrument{Symbol: "XRPUSDT", MinQty: 1, MaxQty: 10, QtyStep: 1}

	qty, err := usecase.QuantityForNotional(inst, 1000, 0.5) // raw 2000
	require.NoError(t, err)
	assert.Equal(t, 10.0, qty)
}

func TestQuantityForNotional_ExactStepNoFloatDrift(t *testing.T) {
	inst := &domain.Instrument{Symbol: "DOGEUSDT", MinQty: 1, MaxQty: 1e9, QtyStep: 1}

	// 0.1+0.2 style drift must not produce 2999.9999 → 2999.
	qty, err := usecase.QuantityForNotional(inst, 300, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, qty)
}

func TestQuantityForNotional_InvalidInputs(t *testing.T) {
	inst := &domain.Instrument{Symbol: "BTCUSDT", MinQty: 0.001, QtyStep: 0.001}

	_, err := usecase.QuantityForNotional(inst, 50, 0)
	require.Error(t, err)
	_, err = usecase.QuantityForNotional(inst, 0, 100)
	require.Error(t, err)
	_, err = usecase.QuantityForNotional(&domain.Instrument{Symbol: "X"}, 50, 100)
	require.Error(t, err)
}
