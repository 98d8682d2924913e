// Package cnpj validates Brazilian business tax identifiers (CNPJ).
//
// A CNPJ has 14 digits: a 12-digit base followed by two check digits, each a
// weighted sum modulo 11 over the digits before it.
package cnpj

import (
	"strings"
)

// Length is the number of digits in a CNPJ.
const Length = 14

var (
	weights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	weights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// Digits strips every non-digit character, so "11.444.777/0001-61" becomes "11444777000161".
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether s, after stripping punctuation, is a well-formed CNPJ.
// Inputs with a length other than 14 or made of a single repeated digit are invalid.
func Valid(s string) bool {
	d := Digits(s)
	if len(d) != Length || allSame(d) {
		return false
	}
	if int(d[12]-'0') != checkDigit(d[:12], weights1) {
		return false
	}
	return int(d[13]-'0') == checkDigit(d[:13], weights2)
}

func checkDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	check := 11 - sum%11
	if check >= 10 {
		return 0
	}
	return check
}

func allSame(d string) bool {
	for i := 1; i < len(d); i++ {
		if d[i] != d[0] {
			return false
		}
	}
	return true
}

// Format renders a valid-length CNPJ as NN.NNN.NNN/NNNN-NN; other inputs are returned unchanged.
func Format(s string) string {
	d := Digits(s)
	if len(d) != Length {
		return s
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}
