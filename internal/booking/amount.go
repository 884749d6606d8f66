package booking

import (
	"math"
	"strings"
	"unicode"

	"github.com/hongminglow/hostel-portal/internal/models"
)

// DefaultBaseFee is the fee of a non-AC room for three or four students.
const DefaultBaseFee int64 = 10000

// PaymentAmount prices a room: base fee, times 1.5 for air-conditioned
// categories, times 1.2 for rooms of at most two, 1.0 for at most four and
// 0.8 for larger rooms, rounded to the nearest unit.
func PaymentAmount(room models.Room, baseFee int64) int64 {
	multiplier := 1.0
	if airConditioned(room.Category) {
		multiplier = 1.5
	}
	switch {
	case room.PaxPerRoom <= 2:
		multiplier *= 1.2
	case room.PaxPerRoom <= 4:
	default:
		multiplier *= 0.8
	}
	return int64(math.Round(float64(baseFee) * multiplier))
}

// airConditioned looks for an "AC" word in the category that is not negated
// by a preceding "Non", so "Non-AC Six" is not air-conditioned.
func airConditioned(category string) bool {
	words := strings.FieldsFunc(strings.ToUpper(category), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		if w == "AC" && (i == 0 || words[i-1] != "NON") {
			return true
		}
	}
	return false
}
