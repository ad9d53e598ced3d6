package types

import (
	"time"

	"cloudpico-thermo/internal/poller"
)

// Reading is the wire form of one finished scan cycle, shared by the MQTT
// publisher, the history store and the HTTP API.
type Reading struct {
	Sensor              string    `json:"sensor"`
	Model               string    `json:"model"`
	Address             string    `json:"address,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	Outcome             string    `json:"outcome"`
	Temperature         *float64  `json:"temperature_c,omitempty"`
	InternalTemperature *float64  `json:"internal_temperature_c,omitempty"`
	ExternalTemperature *float64  `json:"external_temperature_c,omitempty"`
	Humidity            *float64  `json:"humidity_pct,omitempty"`
	ExternalActive      bool      `json:"external_active"`
	Battery             *int      `json:"battery_pct,omitempty"`
	LowBattery          bool      `json:"low_battery"`
	CRC                 string    `json:"crc"`
}

// SensorHealth is published retained so late subscribers see the last state.
type SensorHealth struct {
	Sensor   string    `json:"sensor"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

func NewReading(snap poller.Snapshot, model string) Reading {
	r := snap.Reading
	return Reading{
		Sensor:              snap.Sensor,
		Model:               model,
		Address:             snap.Address,
		Timestamp:           snap.UpdatedAt,
		Outcome:             string(snap.Outcome),
		Temperature:         r.Temperature,
		InternalTemperature: r.InternalTemperature,
		ExternalTemperature: r.ExternalTemperature,
		Humidity:            r.Humidity,
		ExternalActive:      r.ExternalActive,
		Battery:             r.Battery,
		LowBattery:          r.LowBattery,
		CRC:                 r.CRC.String(),
	}
}

// Healthy reports whether the cycle produced a decoded frame.
func (r Reading) Healthy() bool {
	return r.Outcome == string(poller.OutcomeOK)
}
