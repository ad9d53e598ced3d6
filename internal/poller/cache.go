package poller

import (
	"time"

	"cloudpico-thermo/internal/ble"
)

// Snapshot is the cached result of the last scan cycle. It is replaced
// whole after every cycle, never merged.
type Snapshot struct {
	Sensor    string
	Address   string
	Outcome   Outcome
	Reading   ble.Reading
	UpdatedAt time.Time
}

// Value extracts q from the snapshot. Quantities the cycle did not decode
// come back unavailable.
func (s Snapshot) Value(q Quantity) Result {
	r := s.Reading
	res := Result{Quantity: q}
	switch q {
	case Temperature:
		if r.Temperature != nil {
			res.Value, res.Available = *r.Temperature, true
		}
	case Humidity:
		if r.Humidity != nil {
			res.Value, res.Available = *r.Humidity, true
		}
	case ActiveSensor:
		if r.Decoded() {
			res.Value, res.Available = boolValue(r.ExternalActive), true
		}
	case Battery:
		if r.Battery != nil {
			res.Value, res.Available = float64(*r.Battery), true
		}
	case LowBattery:
		if r.Battery != nil {
			res.Value, res.Available = boolValue(r.LowBattery), true
		}
	}
	return res
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
