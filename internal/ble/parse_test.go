package ble

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

// buildFrame returns a 9-byte frame with a correct checksum.
func buildFrame(temp int16, humidity uint16, probe byte, battery byte) []byte {
	b := make([]byte, FrameLength)
	binary.LittleEndian.PutUint16(b[0:], uint16(temp))
	binary.LittleEndian.PutUint16(b[2:], humidity)
	b[4] = probe
	binary.LittleEndian.PutUint16(b[5:], modbusReference(b[:5]))
	b[7] = battery
	return b
}

// buildDualFrame returns a dual-view frame with the external probe active.
func buildDualFrame(internal, external int16, humidity uint16, battery byte) []byte {
	b := make([]byte, FrameLength)
	binary.LittleEndian.PutUint16(b[0:], uint16(internal))
	binary.LittleEndian.PutUint16(b[2:], humidity)
	b[4] = 1
	binary.LittleEndian.PutUint16(b[5:], uint16(external))
	b[7] = battery
	return b
}

func mustVariant(t *testing.T, model string) Variant {
	t.Helper()
	v, ok := LookupVariant(model)
	if !ok {
		t.Fatalf("LookupVariant(%q): not found", model)
	}
	return v
}

func floatIs(t *testing.T, field string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s = nil, want %v", field, want)
	}
	if *got != want {
		t.Errorf("%s = %v, want %v", field, *got, want)
	}
}

func TestParseSensorPayload_InternalFrame(t *testing.T) {
	data := buildFrame(0x0715, 5000, 0, 80)

	r, err := ParseSensorPayload(data, mustVariant(t, "IBS-TH1"), Calibration{}, SelectAuto)
	if err != nil {
		t.Fatalf("ParseSensorPayload: %v", err)
	}

	if r.CRC != CRCValid {
		t.Errorf("CRC = %v, want valid", r.CRC)
	}
	floatIs(t, "Temperature", r.Temperature, 18.13)
	floatIs(t, "InternalTemperature", r.InternalTemperature, 18.13)
	if r.ExternalTemperature != nil {
		t.Errorf("ExternalTemperature = %v, want nil", *r.ExternalTemperature)
	}
	floatIs(t, "Humidity", r.Humidity, 50)
	if r.Battery == nil || *r.Battery != 80 {
		t.Errorf("Battery = %v, want 80", r.Battery)
	}
	if r.LowBattery {
		t.Error("LowBattery = true, want false")
	}
	if r.ExternalActive || r.ExternalProbe {
		t.Error("external flags set for an internal frame")
	}
	if !r.Decoded() {
		t.Error("Decoded() = false")
	}
}

func TestParseSensorPayload_Idempotent(t *testing.T) {
	data := buildFrame(-512, 6543, 1, 42)
	v := mustVariant(t, "IBS-TH1")
	cal := Calibration{Temperature: 10, ExternalTemperature: -20, Humidity: 5}

	first, err := ParseSensorPayload(data, v, cal, SelectAuto)
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	second, err := ParseSensorPayload(data, v, cal, SelectAuto)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("decodes differ:\n%+v\n%+v", first, second)
	}
}

func TestParseSensorPayload_ChecksumMismatch(t *testing.T) {
	data := buildFrame(0x0715, 5000, 0, 80)
	data[5] ^= 0xFF

	t.Run("known variant discards the frame", func(t *testing.T) {
		r, err := ParseSensorPayload(data, mustVariant(t, "IBS-TH1"), Calibration{}, SelectAuto)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("err = %v, want ErrChecksumMismatch", err)
		}
		if r.CRC != CRCMismatch {
			t.Errorf("CRC = %v, want mismatch", r.CRC)
		}
		if r.Temperature != nil || r.InternalTemperature != nil || r.Humidity != nil || r.Battery != nil {
			t.Errorf("discarded frame populated fields: %+v", r)
		}
		if r.Decoded() {
			t.Error("Decoded() = true for a discarded frame")
		}
	})

	t.Run("unchecked variant keeps the frame", func(t *testing.T) {
		r, err := ParseSensorPayload(data, Unchecked, Calibration{}, SelectAuto)
		if err != nil {
			t.Fatalf("ParseSensorPayload: %v", err)
		}
		if r.CRC != CRCIgnored {
			t.Errorf("CRC = %v, want ignored", r.CRC)
		}
		floatIs(t, "Temperature", r.Temperature, 18.13)
	})
}

func TestParseSensorPayload_AcceptsOnlyMatchingReferenceCRC(t *testing.T) {
	prefix := []byte{0x15, 0x07, 0x00, 0x00, 0x00}
	want := modbusReference(prefix)
	v := mustVariant(t, "IBS-TH1")

	for _, carried := range []uint16{want, want ^ 0x0001, want ^ 0x8000} {
		data := append(append([]byte(nil), prefix...), 0, 0, 50, 0)
		binary.LittleEndian.PutUint16(data[5:], carried)

		_, err := ParseSensorPayload(data, v, Calibration{}, SelectAuto)
		if carried == want && err != nil {
			t.Errorf("carried %04X (reference): err = %v, want nil", carried, err)
		}
		if carried != want && !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("carried %04X: err = %v, want ErrChecksumMismatch", carried, err)
		}
	}
}

func TestParseSensorPayload_ExternalProbeSingleView(t *testing.T) {
	data := buildFrame(2150, 4000, 1, 55)

	r, err := ParseSensorPayload(data, mustVariant(t, "IBS-TH1"), Calibration{}, SelectAuto)
	if err != nil {
		t.Fatalf("ParseSensorPayload: %v", err)
	}
	if r.InternalTemperature != nil {
		t.Errorf("InternalTemperature = %v, want nil", *r.InternalTemperature)
	}
	floatIs(t, "ExternalTemperature", r.ExternalTemperature, 21.5)
	floatIs(t, "Temperature", r.Temperature, 21.5)
	if !r.ExternalActive {
		t.Error("ExternalActive = false, want true")
	}
	if r.CRC != CRCValid {
		t.Errorf("CRC = %v, want valid", r.CRC)
	}
}

func TestParseSensorPayload_DualViewExternal(t *testing.T) {
	data := buildDualFrame(2000, -450, 3000, 70)

	r, err := ParseSensorPayload(data, mustVariant(t, "IBS-TH1 Plus"), Calibration{}, SelectAuto)
	if err != nil {
		t.Fatalf("ParseSensorPayload: %v", err)
	}
	if r.CRC != CRCAbsent {
		t.Errorf("CRC = %v, want absent", r.CRC)
	}
	floatIs(t, "InternalTemperature", r.InternalTemperature, 20)
	floatIs(t, "ExternalTemperature", r.ExternalTemperature, -4.5)
	floatIs(t, "Temperature", r.Temperature, -4.5)
	floatIs(t, "Humidity", r.Humidity, 30)
}

func TestParseSensorPayload_DualViewInternalStillChecksummed(t *testing.T) {
	v := mustVariant(t, "IBS-TH1 Plus")
	data := buildFrame(2000, 3000, 0, 70)
	data[6] ^= 0x10

	_, err := ParseSensorPayload(data, v, Calibration{}, SelectAuto)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestParseSensorPayload_SingleViewIgnoresDualLayout(t *testing.T) {
	// Same bytes as a dual-view external frame: a single-view model must
	// treat [5:7] as a checksum and reject it.
	data := buildDualFrame(2000, -450, 3000, 70)

	_, err := ParseSensorPayload(data, mustVariant(t, "IBS-TH1"), Calibration{}, SelectAuto)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestParseSensorPayload_TemperatureClamp(t *testing.T) {
	tests := []struct {
		name   string
		raw    int16
		offset int
		want   float64
	}{
		{name: "offset pushes below absolute zero", raw: -27300, offset: -100, want: -273.15},
		{name: "raw below absolute zero", raw: -30000, offset: 0, want: -273.15},
		{name: "exactly absolute zero", raw: -27315, offset: 0, want: -273.15},
		{name: "just above absolute zero", raw: -27314, offset: 0, want: -273.14},
		{name: "offset applied before scaling", raw: 1813, offset: 7, want: 18.2},
	}
	v := mustVariant(t, "IBS-TH1")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildFrame(tt.raw, 5000, 0, 80)
			r, err := ParseSensorPayload(data, v, Calibration{Temperature: tt.offset}, SelectAuto)
			if err != nil {
				t.Fatalf("ParseSensorPayload: %v", err)
			}
			floatIs(t, "Temperature", r.Temperature, tt.want)
		})
	}
}

func TestParseSensorPayload_HumidityClamp(t *testing.T) {
	tests := []struct {
		name   string
		raw    uint16
		offset int
		want   float64
	}{
		{name: "above 100", raw: 9990, offset: 50, want: 100},
		{name: "below 0", raw: 20, offset: -50, want: 0},
		{name: "raw above 100", raw: 12000, offset: 0, want: 100},
		{name: "in range", raw: 4567, offset: 33, want: 46},
	}
	v := mustVariant(t, "IBS-TH1")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildFrame(2000, tt.raw, 0, 80)
			r, err := ParseSensorPayload(data, v, Calibration{Humidity: tt.offset}, SelectAuto)
			if err != nil {
				t.Fatalf("ParseSensorPayload: %v", err)
			}
			floatIs(t, "Humidity", r.Humidity, tt.want)
		})
	}
}

func TestParseSensorPayload_Selection(t *testing.T) {
	single := mustVariant(t, "IBS-TH1")
	dual := mustVariant(t, "IBS-TH1 Plus")

	t.Run("internal forced while external active", func(t *testing.T) {
		r, err := ParseSensorPayload(buildFrame(1500, 5000, 1, 80), single, Calibration{}, SelectInternal)
		if err != nil {
			t.Fatalf("ParseSensorPayload: %v", err)
		}
		if r.Temperature != nil {
			t.Errorf("Temperature = %v, want nil (internal probe not transmitted)", *r.Temperature)
		}
		if r.ExternalActive {
			t.Error("ExternalActive = true, want false when internal is forced")
		}
		if !r.ExternalProbe {
			t.Error("ExternalProbe = false, want transmitted flag preserved")
		}
	})

	t.Run("external forced while internal active", func(t *testing.T) {
		r, err := ParseSensorPayload(buildFrame(1500, 5000, 0, 80), single, Calibration{}, SelectExternal)
		if err != nil {
			t.Fatalf("ParseSensorPayload: %v", err)
		}
		if r.Temperature != nil {
			t.Errorf("Temperature = %v, want nil", *r.Temperature)
		}
		if !r.ExternalActive {
			t.Error("ExternalActive = false, want true when external is forced")
		}
	})

	t.Run("internal forced on dual view", func(t *testing.T) {
		r, err := ParseSensorPayload(buildDualFrame(2000, -450, 3000, 70), dual, Calibration{}, SelectInternal)
		if err != nil {
			t.Fatalf("ParseSensorPayload: %v", err)
		}
		floatIs(t, "Temperature", r.Temperature, 20)
	})

	t.Run("external calibration only hits external probe", func(t *testing.T) {
		cal := Calibration{Temperature: 100, ExternalTemperature: -50}
		r, err := ParseSensorPayload(buildDualFrame(2000, 1000, 3000, 70), dual, cal, SelectAuto)
		if err != nil {
			t.Fatalf("ParseSensorPayload: %v", err)
		}
		floatIs(t, "InternalTemperature", r.InternalTemperature, 21)
		floatIs(t, "ExternalTemperature", r.ExternalTemperature, 9.5)
	})
}

func TestParseSensorPayload_LowBattery(t *testing.T) {
	v := mustVariant(t, "IBS-TH1")
	for _, tt := range []struct {
		battery byte
		want    bool
	}{{0, true}, {9, true}, {10, false}, {100, false}} {
		r, err := ParseSensorPayload(buildFrame(2000, 5000, 0, tt.battery), v, Calibration{}, SelectAuto)
		if err != nil {
			t.Fatalf("ParseSensorPayload: %v", err)
		}
		if r.LowBattery != tt.want {
			t.Errorf("battery %d: LowBattery = %v, want %v", tt.battery, r.LowBattery, tt.want)
		}
	}
}

func TestParseSensorPayload_ShortPayload(t *testing.T) {
	for _, n := range []int{0, 5, 7} {
		_, err := ParseSensorPayload(make([]byte, n), Unchecked, Calibration{}, SelectAuto)
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%d bytes: err = %v, want ErrOutOfRange", n, err)
		}
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		in      string
		want    Selection
		wantErr bool
	}{
		{in: "", want: SelectAuto},
		{in: "auto", want: SelectAuto},
		{in: " Internal ", want: SelectInternal},
		{in: "EXTERNAL", want: SelectExternal},
		{in: "probe", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSelection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSelection(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseSelection(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
