package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/omnex/crypto_trade_engine/internal/domain"
)

// QuantityForNotional converts a quote-currency notional into an order
// quantity that respects the instrument's lot constraints:
//
//	quantity = floor(notional / price / qtyStep) * qtyStep
//
// clamped to [MinQty, MaxQty]. Decimal arithmetic avoids float modulo
// artifacts at exchange step sizes (0.001 and friends).
func QuantityForNotional(inst *domain.Instrument, notional, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("sizing %s: price %v", inst.Symbol, price)
	}
	if notional <= 0 {
		return 0, fmt.Errorf("sizing %s: notional %v", inst.Symbol, notional)
	}
	if inst.QtyStep <= 0 {
		return 0, fmt.Errorf("sizing %s: qty step %v", inst.Symbol, inst.QtyStep)
	}

	step := decimal.NewFromFloat(inst.QtyStep)
	raw := decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price))
	qty := raw.Div(step).Floor().Mul(step)

	minQty := decimal.NewFromFloat(inst.MinQty)
	if qty.LessThan(minQty) {
		return 0, fmt.Errorf("sizing %s: quantity %s below minimum %s: %w",
			inst.Symbol, qty.String(), minQty.String(), domain.ErrRejectedByExchange)
	}
	if inst.MaxQty > 0 {
		maxQty := decimal.NewFromFloat(inst.MaxQty)
		if qty.GreaterThan(maxQty) {
			qty = maxQty
		}
	}

	out, _ := qty.Float64()
	return out, nil
}
