package tabular

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// groupedInteger matches an integer written with dot thousands separators, e.g. "1.234.567".
var groupedInteger = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)

// NormalizeNumber rewrites a Brazilian-formatted number ("1.234,56") into the
// dot-decimal form ("1234.56"). Without a decimal comma, only dot-grouped
// integers ("1.234.567") lose their dots; anything else is returned trimmed, so
// already-normalized values pass through.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	if !strings.Contains(s, ",") {
		if groupedInteger.MatchString(s) {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	}
	s = strings.ReplaceAll(s, ".", "")
	return strings.Replace(s, ",", ".", 1)
}

// ParseDecimal parses a locale-formatted number.
func ParseDecimal(s string) (decimal.Decimal, error) {
	n := NormalizeNumber(s)
	if n == "" {
		return decimal.Zero, eris.New("tabular: empty number")
	}
	d, err := decimal.NewFromString(n)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "tabular: parse number %q", s)
	}
	return d, nil
}

// DecimalOrZero parses s and coerces anything unparseable to zero.
func DecimalOrZero(s string) decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatMoney renders d with two decimal places and a dot separator.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}
