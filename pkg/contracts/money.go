package contracts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cents is a monetary amount in the smallest currency unit. All settlement
// arithmetic that must balance exactly happens in Cents; floats appear only
// in the share/weight space.
type Cents int64

// ParseCents parses a decimal money string ("1000000", "1234.50", "0.05")
// into cents. At most two fraction digits are accepted.
func ParseCents(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, NewConfigurationError("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, NewConfigurationError("amount %q has more than two fraction digits", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, NewConfigurationError("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, NewConfigurationError("invalid amount %q", s)
	}
	c := Cents(w*100 + f)
	if neg {
		c = -c
	}
	return c, nil
}

// String formats the amount as a decimal with two fraction digits.
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// RoundCents converts a fractional cent amount to whole cents,
// half away from zero.
func RoundCents(v float64) Cents {
	return Cents(math.Round(v))
}
