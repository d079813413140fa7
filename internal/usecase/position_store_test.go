package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/usecase"
)

func newStore(t *testing.T, total, reserve float64) (*usecase.PositionStore, *usecase.CapitalLedger, *MockTradeRepo) {
	t.Helper()
	ledger := usecase.NewCapitalLedger(total, reserve, zap.NewNop())
	repo := &MockTradeRepo{}
	store := usecase.NewPositionStore(ledger, repo, 0.005, zap.NewNop())
	return store, ledger, repo
}

func TestPositionStore_OpenCommitsAndRecordsAtomically(t *testing.T) {
	store, ledger, _ := newStore(t, 12, 2)

	require.NoError(t, store.Open("BTCUSDT", domain.SideLong, 0.1, 50000, 5.0, 5))
	assert.Equal(t, 5.0, ledger.Snapshot().Committed)
	assert.Equal(t, 1, store.OpenCount())

	p, ok := store.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StateOpen, p.State)
	assert.Equal(t, 50000.0, p.WaterMark)
	// Initial stop sits trailingPct below entry for a long.
	assert.InDelta(t, 49750.0, p.TrailingStop, 1e-9)
}

func TestPositionStore_DuplicateSymbolRejected(t *testing.T) {
	store, ledger, _ := newStore(t, 20, 0)

	require.NoError(t, store.Open("ETHUSDT", domain.SideShort, 1, 3000, 5, 3))
	err := store.Open("ETHUSDT", domain.SideLong, 1, 3000, 5, 3)
	require.ErrorIs(t, err, domain.ErrDuplicatePosition)

	// The denied open must not have committed anything extra.
	assert.Equal(t, 5.0, ledger.Snapshot().Committed)
}

func TestPositionStore_OpenDeniedWhenCapitalExhausted(t *testing.T) {
	store, ledger, _ := newStore(t, 12, 2)

	require.NoError(t, store.Open("BTCUSDT", domain.SideLong, 0.1, 100, 5, 5))
	require.NoError(t, store.Open("ETHUSDT", domain.SideLong, 1, 100, 5, 5))

	err := store.Open("SOLUSDT", domain.SideLong, 10, 100, 5, 5)
	require.ErrorIs(t, err, domain.ErrCapitalRejected)
	assert.Equal(t, 2, store.OpenCount())
	assert.Equal(t, 10.0, ledger.Snapshot().Committed)
}

func TestPositionStore_CloseReleasesAndRecordsHistory(t *testing.T) {
	store, ledger, repo := newStore(t, 12, 2)
	ctx := context.Background()

	require.NoError(t, store.Open("BTCUSDT", domain.SideLong, 0.1, 100.0, 5, 5))

	pnl, err := store.Close(ctx, "BTCUSDT", 110.0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pnl, 1e-9) // (110-100)*0.1

	snap := ledger.Snapshot()
	assert.Equal(t, 0.0, snap.Committed)
	assert.Equal(t, 13.0, snap.Total) // realized pnl folded in

	assert.Equal(t, 0, store.OpenCount())
	require.Len(t, repo.History, 1)
	assert.Equal(t, domain.StateClosed, repo.History[0].State)
	assert.InDelta(t, 1.0, repo.History[0].RealizedPnL, 1e-9)

	recent := store.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "BTCUSDT", recent[0].Symbol)
}

func TestPositionStore_ShortClosePnL(t *testing.T) {
	store, _, _ := newStore(t, 20, 0)
	ctx := context.Background()

	require.NoError(t, store.Open("ETHUSDT", domain.SideShort, 2, 3000, 5, 3))
	pnl, err := store.Close(ctx, "ETHUSDT", 2900)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, pnl, 1e-9) // (3000-2900)*2
}

func TestPositionStore_CloseUnknownSymbol(t *testing.T) {
	store, _, _ := newStore(t, 10, 0)
	_, err := store.Close(context.Background(), "NOPE", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_MarkClosingIdempotent(t *testing.T) {
	store, _, _ := newStore(t, 10, 0)

	require.NoError(t, store.Open("BTCUSDT", domain.SideLong, 0.1, 100, 5, 5))

	first, err := store.MarkClosing("BTCUSDT", "trailing_stop", "cls-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosing, first.State)

	// A second trigger while Closing is a no-op that keeps the original
	// intent token.
	second, err := store.MarkClosing("BTCUSDT", "max_holding", "cls-2")
	require.ErrorIs(t, err, domain.ErrAlreadyClosing)
	assert.Equal(t, "cls-1", second.CloseOrderLink)
	assert.Equal(t, "trailing_stop", second.CloseReason)
}

func TestPositionStore_FailKeepsCapitalCommitted(t *testing.T) {
	store, ledger, repo := newStore(t, 10, 0)
	ctx := context.Background()

	require.NoError(t, store.Open("BTCUSDT", domain.SideLong, 0.1, 100, 5, 5))
	_, err := store.MarkClosing("BTCUSDT", "trailing_stop", "cls-1")
	require.NoError(t, err)

	store.Fail(ctx, "BTCUSDT", "close rejected after 5 attempts")

	p, ok := store.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StateFailed, p.State)
	// Failed positions still tie up capital and still count for admission.
	assert.Equal(t, 5.0, ledger.Snapshot().Committed)
	assert.Equal(t, 1, store.OpenCount())

	require.Len(t, repo.History, 1)
	assert.Equal(t, domain.StateFailed, repo.History[0].State)
	require.Len(t, repo.Events, 1)
}

func TestPositionStore_AdvanceStopIsMonotonic(t *testing.T) {
	store, _, _ := newStore(t, 20, 0)

	require.NoError(t, store.Open("BTCUSDT", domain.SideLong, 0.1, 100, 5, 5))
	store.AdvanceStop("BTCUSDT", 110, 109.45)
	store.AdvanceStop("BTCUSDT", 105, 104.475) // retreat attempt, must be ignored

	p, _ := store.Get("BTCUSDT")
	assert.Equal(t, 110.0, p.WaterMark)
	assert.Equal(t, 109.45, p.TrailingStop)

	require.NoError(t, store.Open("ETHUSDT", domain.SideShort, 1, 3000, 5, 3))
	store.AdvanceStop("ETHUSDT", 2900, 2914.5)
	store.AdvanceStop("ETHUSDT", 2950, 2964.75) // adverse for a short, ignored

	p, _ = store.Get("ETHUSDT")
	assert.Equal(t, 2900.0, p.WaterMark)
	assert.Equal(t, 2914.5, p.TrailingStop)
}
