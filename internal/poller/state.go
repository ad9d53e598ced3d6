package poller

import (
	"fmt"
	"strings"
)

// State is the scheduler's position in the scan cycle.
type State int

const (
	StateRadioOff State = iota
	StateIdle
	StateScanning
	StateReadingReady
)

func (s State) String() string {
	switch s {
	case StateRadioOff:
		return "radio_off"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateReadingReady:
		return "reading_ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Quantity is one value a caller can poll for.
type Quantity int

const (
	Temperature Quantity = iota
	Humidity
	ActiveSensor
	Battery
	LowBattery

	quantityCount
)

var quantityNames = [quantityCount]string{
	Temperature:  "temperature",
	Humidity:     "humidity",
	ActiveSensor: "active",
	Battery:      "battery",
	LowBattery:   "lowbattery",
}

func (q Quantity) String() string {
	if q < 0 || q >= quantityCount {
		return fmt.Sprintf("quantity(%d)", int(q))
	}
	return quantityNames[q]
}

func ParseQuantity(s string) (Quantity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for q, name := range quantityNames {
		if name == s {
			return Quantity(q), nil
		}
	}
	return 0, fmt.Errorf("unknown quantity %q", s)
}

// Quantities lists every pollable quantity.
func Quantities() []Quantity {
	out := make([]Quantity, 0, quantityCount)
	for q := Quantity(0); q < quantityCount; q++ {
		out = append(out, q)
	}
	return out
}

// Result answers one poll. Available is false for "no value".
// Flags are reported as 1 (true) or 0 (false).
type Result struct {
	Quantity  Quantity
	Value     float64
	Available bool
}

func (r Result) Bool() bool { return r.Available && r.Value != 0 }

// Outcome classifies a finished scan cycle.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeOK          Outcome = "ok"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeCRCMismatch Outcome = "crc_mismatch"
	OutcomeInvalid     Outcome = "invalid"
)
