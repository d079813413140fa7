package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	recvWindowMs = 5000
	category     = "linear"
)

// APIError carries the Bybit retCode alongside the taxonomy class so logs
// keep the raw rejection while callers match with errors.Is.
type APIError struct {
	Code int
	Msg  string
	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit retCode %d: %s", e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return e.kind }

// BybitAdapter implements domain.Exchange against the Bybit V5 REST API,
// plus a public websocket ticker stream feeding a last-price cache.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	policy    RetryPolicy
	logger    *zap.Logger

	mu         sync.Mutex
	wsConn     *websocket.Conn
	callbacks  []func(symbol string, price float64)
	lastPrices map[string]float64
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &BybitAdapter{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		wsURL:      wsURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		policy:     DefaultRetryPolicy(),
		logger:     logger,
		lastPrices: make(map[string]float64),
	}
}

// SetRetryPolicy overrides the default bounded-backoff policy.
func (b *BybitAdapter) SetRetryPolicy(p RetryPolicy) { b.policy = p }

// --- signing ---

// sign computes HMAC-SHA256 over timestamp + apiKey + recvWindow + params.
func (b *BybitAdapter) sign(params string, timestamp int64) string {
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindowMs, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

type apiEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// classifyRetCode maps Bybit business codes onto the failure taxonomy.
func classifyRetCode(code int, msg string) error {
	kind := domain.ErrRejectedByExchange
	switch code {
	case 10003, 10004, 10005, 33004: // bad key, bad sign, no permission, key expired
		kind = domain.ErrAuthFailure
	case 10006, 10018: // rate limit, ip rate limit
		kind = domain.ErrRateLimited
	case 10016: // server error
		kind = domain.ErrTransient
	case 110017, 110025: // reduce-only against zero position / position not exist
		kind = domain.ErrNoSuchPosition
	}
	return &APIError{Code: code, Msg: msg, kind: kind}
}

// sendRequest signs and performs one HTTP call and returns the envelope
// result payload. query must already be encoded (url.Values.Encode sorts
// keys alphabetically, which is what the signature requires). mutating
// controls whether a timeout maps to OutcomeUnknown instead of Transient.
func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, query url.Values, payload any, mutating bool) (json.RawMessage, error) {
	if b.apiSecret == "" {
		return nil, fmt.Errorf("no api secret configured: %w", domain.ErrAuthFailure)
	}

	timestamp := time.Now().UnixMilli()

	var body []byte
	var paramsStr string
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if len(query) > 0 {
		paramsStr = query.Encode()
		path = path + "?" + paramsStr
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindowMs))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if mutating && (errors.Is(err, context.DeadlineExceeded) || isTimeout(err)) {
			return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrOutcomeUnknown)
		}
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, domain.ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("http %d: %w", resp.StatusCode, domain.ErrAuthFailure)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("http %d: %w", resp.StatusCode, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("http %d: %w", resp.StatusCode, domain.ErrTransient)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("http %d: %s: %w", resp.StatusCode, respBody, domain.ErrRejectedByExchange)
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %v: %w", err, domain.ErrMalformedResponse)
	}
	if env.RetCode != 0 {
		return nil, classifyRetCode(env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// getWithRetry runs a read-only signed GET under the bounded retry policy.
func (b *BybitAdapter) getWithRetry(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var result json.RawMessage
	err := Retry(ctx, b.policy, func() error {
		var innerErr error
		result, innerErr = b.sendRequest(ctx, http.MethodGet, path, query, nil, false)
		return innerErr
	})
	return result, err
}

// --- market data ---

func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)

	raw, err := b.getWithRetry(ctx, "/v5/market/tickers", q)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			Price24hPcnt string `json:"price24hPcnt"`
			Turnover24h  string `json:"turnover24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode ticker: %v: %w", err, domain.ErrMalformedResponse)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("ticker %s: empty list: %w", symbol, domain.ErrMalformedResponse)
	}

	t := result.List[0]
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("ticker %s: bad lastPrice %q: %w", symbol, t.LastPrice, domain.ErrMalformedResponse)
	}
	pcnt, _ := strconv.ParseFloat(t.Price24hPcnt, 64)
	vol, _ := strconv.ParseFloat(t.Turnover24h, 64)

	return &domain.Ticker{
		Symbol:       t.Symbol,
		LastPrice:    price,
		Price24hPcnt: pcnt,
		Volume24h:    vol,
	}, nil
}

func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	raw, err := b.getWithRetry(ctx, "/v5/market/kline", q)
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode kline: %v: %w", err, domain.ErrMalformedResponse)
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, row := range result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePrice, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, domain.Candle{
			Time:   ts / 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	// Bybit returns newest first; flip to chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (b *BybitAdapter) GetInstruments(ctx context.Context) ([]domain.Instrument, error) {
	q := url.Values{}
	q.Set("category", category)

	raw, err := b.getWithRetry(ctx, "/v5/market/instruments-info", q)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode instruments: %v: %w", err, domain.ErrMalformedResponse)
	}

	instruments := make([]domain.Instrument, 0, len(result.List))
	for _, item := range result.List {
		minQty, _ := strconv.ParseFloat(item.LotSizeFilter.MinOrderQty, 64)
		maxQty, _ := strconv.ParseFloat(item.LotSizeFilter.MaxOrderQty, 64)
		step, _ := strconv.ParseFloat(item.LotSizeFilter.QtyStep, 64)
		tick, _ := strconv.ParseFloat(item.PriceFilter.TickSize, 64)
		maxLev, _ := strconv.ParseFloat(item.LeverageFilter.MaxLeverage, 64)
		if minQty <= 0 || step <= 0 {
			// Constraints we cannot trade against; skip rather than carry
			// zero values into sizing.
			continue
		}
		instruments = append(instruments, domain.Instrument{
			Symbol:      item.Symbol,
			BaseCoin:    item.BaseCoin,
			QuoteCoin:   item.QuoteCoin,
			Status:      item.Status,
			MinQty:      minQty,
			MaxQty:      maxQty,
			QtyStep:     step,
			TickSize:    tick,
			MaxLeverage: maxLev,
		})
	}
	return instruments, nil
}

// --- account ---

func (b *BybitAdapter) GetWalletBalance(ctx context.Context) (*domain.WalletBalance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", "USDT")

	raw, err := b.getWithRetry(ctx, "/v5/account/wallet-balance", q)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				Equity              string `json:"equity"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				WalletBalance       string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode balance: %v: %w", err, domain.ErrMalformedResponse)
	}
	if len(result.List) == 0 || len(result.List[0].Coin) == 0 {
		return nil, fmt.Errorf("balance: empty list: %w", domain.ErrMalformedResponse)
	}

	c := result.List[0].Coin[0]
	equity, err := strconv.ParseFloat(c.Equity, 64)
	if err != nil {
		return nil, fmt.Errorf("balance: bad equity %q: %w", c.Equity, domain.ErrMalformedResponse)
	}
	avail, _ := strconv.ParseFloat(c.AvailableToWithdraw, 64)
	if avail == 0 {
		avail, _ = strconv.ParseFloat(c.WalletBalance, 64)
	}

	return &domain.WalletBalance{Coin: c.Coin, Equity: equity, AvailableToSpend: avail}, nil
}

func (b *BybitAdapter) GetPosition(ctx context.Context, symbol string) (*domain.ExchangePosition, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)

	raw, err := b.getWithRetry(ctx, "/v5/position/list", q)
	if err != nil {
		return nil, err
	}
	positions, err := parsePositionList(raw)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Size > 0 {
			return p, nil
		}
	}
	// Zero-size answer is a real answer: no position held.
	return &domain.ExchangePosition{Symbol: symbol}, nil
}

func (b *BybitAdapter) GetPositions(ctx context.Context) ([]*domain.ExchangePosition, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("settleCoin", "USDT")

	raw, err := b.getWithRetry(ctx, "/v5/position/list", q)
	if err != nil {
		return nil, err
	}
	all, err := parsePositionList(raw)
	if err != nil {
		return nil, err
	}
	open := make([]*domain.ExchangePosition, 0, len(all))
	for _, p := range all {
		if p.Size > 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

func parsePositionList(raw json.RawMessage) ([]*domain.ExchangePosition, error) {
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode positions: %v: %w", err, domain.ErrMalformedResponse)
	}

	positions := make([]*domain.ExchangePosition, 0, len(result.List))
	for _, rawPos := range result.List {
		size, _ := strconv.ParseFloat(rawPos.Size, 64)
		entry, _ := strconv.ParseFloat(rawPos.AvgPrice, 64)
		mark, _ := strconv.ParseFloat(rawPos.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(rawPos.UnrealisedPnl, 64)
		lev, _ := strconv.ParseFloat(rawPos.Leverage, 64)

		side := domain.SideLong
		if rawPos.Side == "Sell" {
			side = domain.SideShort
		}
		positions = append(positions, &domain.ExchangePosition{
			Symbol:        rawPos.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
			Leverage:      int(lev),
		})
	}
	return positions, nil
}

// --- trading ---

// PlaceOrder submits a market order. The request's OrderLinkID is reused on
// every retry of the same intent, so a retried submission has at most one
// economic effect. An OutcomeUnknown error is never retried here; the caller
// reconciles by querying position state.
func (b *BybitAdapter) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("order: empty symbol: %w", domain.ErrRejectedByExchange)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order %s: quantity %v: %w", req.Symbol, req.Quantity, domain.ErrRejectedByExchange)
	}
	if req.Side != domain.SideLong && req.Side != domain.SideShort {
		return nil, fmt.Errorf("order %s: invalid side %q: %w", req.Symbol, req.Side, domain.ErrRejectedByExchange)
	}
	if req.OrderLinkID == "" {
		return nil, fmt.Errorf("order %s: missing order link id: %w", req.Symbol, domain.ErrRejectedByExchange)
	}

	side := "Buy"
	if req.Side == domain.SideShort {
		side = "Sell"
	}
	payload := map[string]any{
		"category":    category,
		"symbol":      req.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"timeInForce": "IOC",
		"orderLinkId": req.OrderLinkID,
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}
	if req.TriggerPrice > 0 && req.TriggerDirection != domain.TriggerNone {
		payload["triggerPrice"] = strconv.FormatFloat(req.TriggerPrice, 'f', -1, 64)
		if req.TriggerDirection == domain.TriggerRisesTo {
			payload["triggerDirection"] = 1
		} else {
			payload["triggerDirection"] = 2
		}
	}

	var ack *domain.OrderAck
	err := Retry(ctx, b.policy, func() error {
		raw, reqErr := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", nil, payload, true)
		if reqErr != nil {
			return reqErr
		}
		var result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("decode order ack: %v: %w", err, domain.ErrMalformedResponse)
		}
		if result.OrderID == "" {
			return fmt.Errorf("order ack without orderId: %w", domain.ErrMalformedResponse)
		}
		ack = &domain.OrderAck{OrderID: result.OrderID, OrderLinkID: result.OrderLinkID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ack, nil
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]any{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	_, err := b.sendRequest(ctx, http.MethodPost, "/v5/position/set-leverage", nil, payload, true)
	// 110043: leverage not modified. Setting the value it already has is fine.
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == 110043 {
		return nil
	}
	return err
}

// --- websocket ticker stream ---

// OnPriceUpdate registers a callback invoked for every streamed ticker.
func (b *BybitAdapter) OnPriceUpdate(callback func(symbol string, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// LastPrice returns the most recent streamed price, zero if none seen.
func (b *BybitAdapter) LastPrice(symbol string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPrices[symbol]
}

// SubscribeTickers connects the public stream (if needed) and subscribes
// the given symbols' ticker topics.
func (b *BybitAdapter) SubscribeTickers(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", b.wsURL, err)
		}
		b.wsConn = c
		go b.readLoop(c)
	}
	if len(symbols) == 0 {
		return nil
	}

	args := make([]any, len(symbols))
	for i, s := range symbols {
		args[i] = "tickers." + s
	}
	return b.wsConn.WriteJSON(map[string]any{"op": "subscribe", "args": args})
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if b.logger != nil {
				b.logger.Warn("ticker stream closed", zap.Error(err))
			}
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil || event.Data.Symbol == "" {
			continue
		}
		price, err := strconv.ParseFloat(event.Data.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}

		b.mu.Lock()
		b.lastPrices[event.Data.Symbol] = price
		callbacks := make([]func(string, float64), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Data.Symbol, price)
		}
	}
}

// Close shuts the websocket stream down, if connected.
func (b *BybitAdapter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wsConn != nil {
		err := b.wsConn.Close()
		b.wsConn = nil
		return err
	}
	return nil
}
