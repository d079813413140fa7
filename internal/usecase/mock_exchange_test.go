package usecase_test

import (
	"context"
	"sync"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// MockExchange implements domain.Exchange for service tests. Errors can be
// injected per call; every placed order is recorded.
type MockExchange struct {
	mu sync.Mutex

	Prices    map[string]float64
	PriceErr  error
	PriceErrs map[string]error
	PlaceErrs []error // consumed in order; nil entries mean success
	PlaceErr  error   // sticky error once PlaceErrs is drained
	Placed    []*domain.OrderRequest
	Positions map[string]*domain.ExchangePosition
	Candles   map[string][]domain.Candle
	Instr     []domain.Instrument
	InstrErr  error
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Prices:    make(map[string]float64),
		Positions: make(map[string]*domain.ExchangePosition),
		Candles:   make(map[string][]domain.Candle),
	}
}

func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return nil, m.PriceErr
	}
	if err, ok := m.PriceErrs[symbol]; ok {
		return nil, err
	}
	return &domain.Ticker{Symbol: symbol, LastPrice: m.Prices[symbol]}, nil
}

func (m *MockExchange) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	return &domain.WalletBalance{Coin: "USDT", Equity: 100}, nil
}

func (m *MockExchange) GetInstruments(ctx context.Context) ([]domain.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InstrErr != nil {
		return nil, m.InstrErr
	}
	return m.Instr, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Candles[symbol], nil
}

func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*domain.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Positions[symbol]; ok {
		return p, nil
	}
	return &domain.ExchangePosition{Symbol: symbol}, nil
}

func (m *MockExchange) GetPositions(ctx context.Context) ([]*domain.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ExchangePosition, 0, len(m.Positions))
	for _, p := range m.Positions {
		if p.Size > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Placed = append(m.Placed, req)

	var err error
	if len(m.PlaceErrs) > 0 {
		err = m.PlaceErrs[0]
		m.PlaceErrs = m.PlaceErrs[1:]
	} else {
		err = m.PlaceErr
	}
	if err != nil {
		return nil, err
	}
	return &domain.OrderAck{OrderID: "ord-1", OrderLinkID: req.OrderLinkID}, nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *MockExchange) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}

// MockSignal returns a fixed evaluation.
type MockSignal struct {
	Side       domain.Side
	Confidence float64
	Err        error
}

func (m *MockSignal) Evaluate(ctx context.Context, symbol string) (domain.Side, float64, error) {
	if m.Err != nil {
		return "", 0, m.Err
	}
	return m.Side, m.Confidence, nil
}

// MockTradeRepo records the audit trail in memory.
type MockTradeRepo struct {
	mu      sync.Mutex
	History []*domain.PositionHistory
	Events  []string
}

func (m *MockTradeRepo) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History = append(m.History, h)
	return nil
}

func (m *MockTradeRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.PositionHistory, len(m.History))
	copy(out, m.History)
	return out, nil
}

func (m *MockTradeRepo) SaveSessionEvent(ctx context.Context, subsystem, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, subsystem+": "+message)
	return nil
}
