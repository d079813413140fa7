package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// InstrumentCache holds the exchange's instrument constraints, loaded at
// startup and refreshed on a coarse timer. A failed refresh keeps the last
// good snapshot.
type InstrumentCache struct {
	exchange domain.Exchange
	logger   *zap.Logger

	mu          sync.RWMutex
	instruments map[string]domain.Instrument
}

func NewInstrumentCache(exchange domain.Exchange, logger *zap.Logger) *InstrumentCache {
	return &InstrumentCache{
		exchange:    exchange,
		logger:      logger,
		instruments: make(map[string]domain.Instrument),
	}
}

func (c *InstrumentCache) Refresh(ctx context.Context) error {
	instruments, err := c.exchange.GetInstruments(ctx)
	if err != nil {
		c.logger.Warn("instrument refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	next := make(map[string]domain.Instrument, len(instruments))
	for _, inst := range instruments {
		next[inst.Symbol] = inst
	}

	c.mu.Lock()
	c.instruments = next
	c.mu.Unlock()

	c.logger.Info("instruments refreshed", zap.Int("count", len(next)))
	return nil
}

func (c *InstrumentCache) Get(symbol string) (*domain.Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", symbol, domain.ErrNotFound)
	}
	return &inst, nil
}

func (c *InstrumentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}
