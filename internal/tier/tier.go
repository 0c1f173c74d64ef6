// Package tier classifies carts by monetary value.
package tier

import (
	"fmt"
	"strings"
)

type Tier string

const (
	Low    Tier = "LOW"
	Medium Tier = "MEDIUM"
	High   Tier = "HIGH"
)

// Upper bounds, inclusive, of the LOW and MEDIUM tiers.
const (
	LowMax    = 1000.0
	MediumMax = 10000.0
)

// Classify maps a cart total to its tier. Boundary values belong to the lower tier.
func Classify(total float64) Tier {
	switch {
	case total <= LowMax:
		return Low
	case total <= MediumMax:
		return Medium
	default:
		return High
	}
}

// Parse accepts a tier name in any case.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	return t == Low || t == Medium || t == High
}

// Priority is the delivery importance for messages about a cart of this tier.
func (t Tier) Priority() string {
	if t == High {
		return "high"
	}
	return "normal"
}

// Discounted reports whether carts of this tier get an automatic incentive.
// HIGH tier carts are left to the sales team.
func (t Tier) Discounted() bool {
	return t == Low || t == Medium
}

func (t Tier) String() string { return string(t) }
