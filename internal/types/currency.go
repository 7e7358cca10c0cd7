package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// GetCurrencyPrecision returns the number of minor unit digits of a 3 letter ISO currency
func GetCurrencyPrecision(code string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(code)]; ok {
		return 0
	}
	return 2
}

// FromMinorUnits converts an integer amount in minor units into its decimal major unit value.
// Only meant for output boundaries.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -GetCurrencyPrecision(currency))
}

// FormatMinorUnits renders amount as a fixed point string, 15000 RON -> "150.00"
func FormatMinorUnits(amount int64, currency string) string {
	precision := GetCurrencyPrecision(currency)
	return decimal.New(amount, -precision).StringFixed(precision)
}

// ToMinorUnits converts a major unit decimal into minor units, rounding half away from zero
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(GetCurrencyPrecision(currency)).Round(0).IntPart()
}
