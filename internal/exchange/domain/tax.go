package domain

import "github.com/shopspring/decimal"

// MaxSalesTaxRate 交易税率上限
var MaxSalesTaxRate = decimal.NewFromFloat(0.25)

// NewSalesTax 按比例计税，向下取整
func NewSalesTax(rate decimal.Decimal) TaxFunc {
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	if rate.GreaterThan(MaxSalesTaxRate) {
		rate = MaxSalesTaxRate
	}
	return func(total int64) int64 {
		if total <= 0 {
			return 0
		}
		return decimal.NewFromInt(total).Mul(rate).Floor().IntPart()
	}
}
