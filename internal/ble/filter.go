package ble

import (
	"strings"
)

// Reason explains a plausibility verdict.
type Reason string

const (
	ReasonMatch     Reason = "match"
	ReasonUnchecked Reason = "unchecked"
	ReasonAddress   Reason = "address"
	ReasonShape     Reason = "shape"
)

// Verdict is the outcome of the plausibility filter for one advertisement.
type Verdict struct {
	Accepted bool
	Reason   Reason
	Expected Shape
	Found    Shape
}

// Check decides whether adv comes from the configured sensor. address is
// compared case-insensitively and skipped when empty.
func Check(adv Advertisement, v Variant, address string) Verdict {
	if address != "" && !strings.EqualFold(strings.TrimSpace(address), adv.Address) {
		return Verdict{Reason: ReasonAddress}
	}
	if !v.Known() {
		return Verdict{Accepted: true, Reason: ReasonUnchecked}
	}

	expected, found := v.Shape(), adv.Shape()
	if !expected.Equal(found) {
		return Verdict{Reason: ReasonShape, Expected: expected, Found: found}
	}
	return Verdict{Accepted: true, Reason: ReasonMatch, Expected: expected, Found: found}
}

// Accept reports whether adv passes the plausibility filter.
func Accept(adv Advertisement, v Variant, address string) bool {
	return Check(adv, v, address).Accepted
}
