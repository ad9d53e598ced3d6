package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"cloudpico-thermo/internal/utils"
)

// Sensor payload format (little-endian), 9 bytes:
// [0:2] temperature int16 x0.01 C, [2:4] humidity uint16 x0.01 %,
// [4] active probe (0 internal, 1 external), [5:7] CRC-16/MODBUS over [0:5],
// [7] battery percent, [8] reserved.
// Dual-view models with the external probe active carry the external
// temperature in [5:7] instead of the CRC.
const (
	FrameLength = 9

	offTemperature = 0
	offHumidity    = 2
	offProbe       = 4
	offChecksum    = 5
	offBattery     = 7
	crcSpan        = offChecksum

	absoluteZero    = -273.15
	minRawCelsius   = -27315
	maxRawHumidity  = 10000
	lowBatteryBelow = 10
)

// ErrChecksumMismatch marks a frame discarded because its CRC did not match.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Selection picks which probe is reported as "the" temperature.
type Selection int

const (
	SelectAuto Selection = iota
	SelectInternal
	SelectExternal
)

func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return SelectAuto, nil
	case "internal":
		return SelectInternal, nil
	case "external":
		return SelectExternal, nil
	default:
		return SelectAuto, fmt.Errorf("invalid sensor selection %q (allowed: auto, internal, external)", s)
	}
}

func (s Selection) String() string {
	switch s {
	case SelectInternal:
		return "internal"
	case SelectExternal:
		return "external"
	default:
		return "auto"
	}
}

// Calibration offsets are in the payload's native hundredths.
type Calibration struct {
	Temperature         int
	ExternalTemperature int
	Humidity            int
}

// CRCOutcome records how the frame checksum was treated.
type CRCOutcome int

const (
	CRCNone     CRCOutcome = iota // no frame decoded
	CRCValid                      // checksum present and matching
	CRCMismatch                   // checksum present, wrong, frame discarded
	CRCIgnored                    // checksum wrong but the variant is unchecked
	CRCAbsent                     // dual-view external frame, no checksum carried
)

func (c CRCOutcome) String() string {
	switch c {
	case CRCValid:
		return "valid"
	case CRCMismatch:
		return "mismatch"
	case CRCIgnored:
		return "ignored"
	case CRCAbsent:
		return "absent"
	default:
		return "none"
	}
}

// Reading is a decoded frame. Pointer fields are nil when the value is unavailable.
type Reading struct {
	// Temperature is the probe chosen by the selection policy.
	Temperature         *float64
	InternalTemperature *float64
	ExternalTemperature *float64
	Humidity            *float64
	// ExternalProbe is the active-probe flag as transmitted.
	ExternalProbe bool
	// ExternalActive is the flag after the selection policy is applied.
	ExternalActive bool
	Battery        *int
	LowBattery     bool
	CRC            CRCOutcome
}

// Decoded reports whether the reading carries a frame.
func (r Reading) Decoded() bool {
	switch r.CRC {
	case CRCValid, CRCIgnored, CRCAbsent:
		return true
	default:
		return false
	}
}

// ParseSensorPayload decodes manufacturer data for variant v. A frame whose
// checksum fails for a known variant is discarded with ErrChecksumMismatch;
// a payload too short for the layout yields ErrOutOfRange.
func ParseSensorPayload(data []byte, v Variant, cal Calibration, sel Selection) (Reading, error) {
	if len(data) < offBattery+1 {
		return Reading{}, fmt.Errorf("payload %s (%d bytes): %w", utils.BytesToHex(data), len(data), ErrOutOfRange)
	}

	external := data[offProbe] == 1
	r := Reading{ExternalProbe: external}

	raw := int(int16(binary.LittleEndian.Uint16(data[offTemperature:])))
	if v.DualView() && external {
		ext := int(int16(binary.LittleEndian.Uint16(data[offChecksum:])))
		r.InternalTemperature = celsius(raw, cal.Temperature)
		r.ExternalTemperature = celsius(ext, cal.ExternalTemperature)
		r.CRC = CRCAbsent
	} else {
		sum, err := ModbusCRC16(data, 0, crcSpan)
		if err != nil {
			return Reading{}, err
		}
		carried := binary.LittleEndian.Uint16(data[offChecksum:])
		switch {
		case sum == carried:
			r.CRC = CRCValid
		case v.Known():
			return Reading{CRC: CRCMismatch}, fmt.Errorf("computed %s, frame carries %s: %w",
				utils.Hex4(sum), utils.Hex4(carried), ErrChecksumMismatch)
		default:
			r.CRC = CRCIgnored
		}
		if external {
			r.ExternalTemperature = celsius(raw, cal.ExternalTemperature)
		} else {
			r.InternalTemperature = celsius(raw, cal.Temperature)
		}
	}

	humidity := clamp(int(binary.LittleEndian.Uint16(data[offHumidity:]))+cal.Humidity, 0, maxRawHumidity)
	h := float64(humidity) / 100
	r.Humidity = &h

	battery := int(data[offBattery])
	r.Battery = &battery
	r.LowBattery = battery < lowBatteryBelow

	switch sel {
	case SelectInternal:
		r.ExternalActive = false
		r.Temperature = r.InternalTemperature
	case SelectExternal:
		r.ExternalActive = true
		r.Temperature = r.ExternalTemperature
	default:
		r.ExternalActive = external
		if external {
			r.Temperature = r.ExternalTemperature
		} else {
			r.Temperature = r.InternalTemperature
		}
	}
	return r, nil
}

func celsius(raw, offset int) *float64 {
	v := raw + offset
	c := float64(v) / 100
	if v < minRawCelsius {
		c = absoluteZero
	}
	return &c
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
