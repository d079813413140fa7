package usecase_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/usecase"
)

func TestCapitalLedger_ReserveScenario(t *testing.T) {
	// total 12, reserve 2, per-trade 5: two commits fit, a third must not.
	ledger := usecase.NewCapitalLedger(12.0, 2.0, zap.NewNop())

	require.True(t, ledger.TryCommit(5.0))
	require.True(t, ledger.TryCommit(5.0))

	snap := ledger.Snapshot()
	assert.Equal(t, 10.0, snap.Committed)
	assert.Equal(t, 0.0, snap.Available)

	assert.False(t, ledger.TryCommit(5.0), "third commit must be denied")

	ledger.Release(5.0)
	snap = ledger.Snapshot()
	assert.Equal(t, 5.0, snap.Committed)
	assert.Equal(t, 5.0, snap.Available)
	assert.True(t, ledger.TryCommit(5.0))
}

func TestCapitalLedger_RejectsNonPositive(t *testing.T) {
	ledger := usecase.NewCapitalLedger(10, 0, zap.NewNop())
	assert.False(t, ledger.TryCommit(0))
	assert.False(t, ledger.TryCommit(-1))
}

func TestCapitalLedger_ReleaseClampsAtZero(t *testing.T) {
	ledger := usecase.NewCapitalLedger(10, 0, zap.NewNop())
	require.True(t, ledger.TryCommit(3))

	// Double release must not drive committed negative.
	ledger.Release(3)
	ledger.Release(3)

	snap := ledger.Snapshot()
	assert.Equal(t, 0.0, snap.Committed)
	assert.Equal(t, 10.0, snap.Available)
}

func TestCapitalLedger_RealizedPnLCompounds(t *testing.T) {
	ledger := usecase.NewCapitalLedger(10, 2, zap.NewNop())
	require.True(t, ledger.TryCommit(5))
	ledger.Release(5)
	ledger.RecordRealized(1.5)

	snap := ledger.Snapshot()
	assert.Equal(t, 11.5, snap.Total)
	assert.Equal(t, 9.5, snap.Available)

	ledger.RecordRealized(-3.0)
	assert.Equal(t, 8.5, ledger.Snapshot().Total)
}

func TestCapitalLedger_InvariantUnderConcurrency(t *testing.T) {
	ledger := usecase.NewCapitalLedger(100, 10, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if ledger.TryCommit(7) {
					snap := ledger.Snapshot()
					if snap.Committed > snap.Total-snap.Reserve {
						t.Errorf("invariant broken: committed %v > %v", snap.Committed, snap.Total-snap.Reserve)
					}
					ledger.Release(7)
				}
			}
		}()
	}
	wg.Wait()

	snap := ledger.Snapshot()
	assert.Equal(t, 0.0, snap.Committed)
}
