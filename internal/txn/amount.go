package txn

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount limits mirror the server column: 12 digits, 2 of them decimal.
const (
	AmountMaxDigits     = 12
	AmountDecimalPlaces = 2
)

var amountCeiling = decimal.New(1, AmountMaxDigits-AmountDecimalPlaces)

// ParseAmount validates a decimal amount and returns it with exactly two
// decimal places, the form the server stores. Normalising before submit
// keeps "100" and "100.00" from hashing differently on a retry.
func ParseAmount(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("amount %q is not a decimal number", s)
	}
	if !d.Equal(d.Round(AmountDecimalPlaces)) {
		return "", fmt.Errorf("amount %q has more than %d decimal places", s, AmountDecimalPlaces)
	}
	if d.Abs().GreaterThanOrEqual(amountCeiling) {
		return "", fmt.Errorf("amount %q exceeds %d digits", s, AmountMaxDigits)
	}
	return d.StringFixed(AmountDecimalPlaces), nil
}
