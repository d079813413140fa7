package domain

// Instrument is a tradable symbol and its exchange-defined order
// constraints. Immutable once loaded; refreshed periodically as a whole.
type Instrument struct {
	Symbol      string  `json:"symbol"`
	BaseCoin    string  `json:"base_coin"`
	QuoteCoin   string  `json:"quote_coin"`
	Status      string  `json:"status"`
	MinQty      float64 `json:"min_qty"`
	MaxQty      float64 `json:"max_qty"`
	QtyStep     float64 `json:"qty_step"`
	TickSize    float64 `json:"tick_size"`
	MaxLeverage float64 `json:"max_leverage"`
}

type Ticker struct {
	Symbol       string  `json:"symbol"`
	LastPrice    float64 `json:"last_price"`
	Price24hPcnt float64 `json:"price_24h_pcnt"`
	Volume24h    float64 `json:"volume_24h"`
}

type WalletBalance struct {
	Coin             string  `json:"coin"`
	Equity           float64 `json:"equity"`
	AvailableToSpend float64 `json:"available_to_spend"`
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
