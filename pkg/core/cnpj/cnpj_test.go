package cnpj

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"11.444.777/0001-61", true},
		{"11444777000161", true},
		{"00.000.000/0001-91", true},
		{"11444777000162", false}, // second check digit off
		{"11444777000151", false}, // first check digit off
		{"11111111111111", false},
		{"00000000000000", false},
		{"1234", false},
		{"114447770001611", false},
		{"", false},
		{"N/D", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.in))
		})
	}
}

// remainderRule computes check digits with the "remainder < 2 means 0" phrasing
// used by the Receita Federal documentation.
func remainderRule(base string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(base[i]-'0') * w
	}
	if r := sum % 11; r >= 2 {
		return 11 - r
	}
	return 0
}

func TestValid_OnlyCheckDigitsDecide(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		base := fmt.Sprintf("%012d", rng.Int63n(1_000_000_000_000))
		d1 := remainderRule(base, weights1)
		d2 := remainderRule(fmt.Sprintf("%s%d", base, d1), weights2)
		good := fmt.Sprintf("%s%d%d", base, d1, d2)
		if allSame(good) {
			continue
		}
		assert.True(t, Valid(good), good)

		wrong := fmt.Sprintf("%s%d%d", base, d1, (d2+1)%10)
		assert.False(t, Valid(wrong), wrong)
	}
}

func TestDigitsAndFormat(t *testing.T) {
	assert.Equal(t, "11444777000161", Digits(" 11.444.777/0001-61 "))
	assert.Equal(t, "", Digits("N/D"))
	assert.Equal(t, "11.444.777/0001-61", Format("11444777000161"))
	assert.Equal(t, "123", Format("123"))
}
