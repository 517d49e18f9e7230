package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyEUR is the reporting currency every ledger amount is converted into.
const CurrencyEUR = "EUR"

// MoneyPlaces / RatePlaces are the quantization scales for amounts and FX
// snapshots (NUMERIC(18,2) and NUMERIC(18,6) in the schema).
const (
	MoneyPlaces int32 = 2
	RatePlaces  int32 = 6
)

// Quantize rounds an amount to two decimal places, half away from zero.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// QuantizeRate rounds an FX rate to six decimal places.
func QuantizeRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RatePlaces)
}

// ToEUR converts a native amount with a rate expressed as EUR per one unit of
// the native currency.
func ToEUR(native, rate decimal.Decimal) decimal.Decimal {
	return Quantize(native.Mul(rate))
}

// FromEUR is the inverse of ToEUR. A zero rate yields zero.
func FromEUR(eur, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return Quantize(eur.Div(rate))
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// SumAmounts adds a list of decimals without intermediate rounding.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
