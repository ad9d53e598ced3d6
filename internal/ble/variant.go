package ble

import (
	"strings"
)

// Variant describes the advertisement shape of one sensor model.
// The zero value is the unchecked variant: every advertisement passes the
// plausibility filter and a CRC mismatch does not discard the frame.
type Variant struct {
	Model string

	known       bool
	dataLength  int
	localName   string
	serviceData []byte
	serviceUUID string
	dualView    bool
}

// Unchecked accepts any device at the configured address.
var Unchecked = Variant{Model: "unchecked"}

var variants = []Variant{
	{Model: "IBS-TH1", known: true, dataLength: FrameLength, localName: "sps", serviceUUID: "fff0"},
	{Model: "IBS-TH1 Mini", known: true, dataLength: FrameLength, localName: "tps", serviceUUID: "fff0"},
	{Model: "IBS-TH1 Plus", known: true, dataLength: FrameLength, localName: "sps", serviceUUID: "fff0", dualView: true},
	{Model: "IBS-TH2", known: true, dataLength: FrameLength, localName: "sps", serviceUUID: "fff0"},
}

// LookupVariant returns the variant for a model name. Unknown names yield
// Unchecked and false.
func LookupVariant(model string) (Variant, bool) {
	for _, v := range variants {
		if strings.EqualFold(v.Model, strings.TrimSpace(model)) {
			return v, true
		}
	}
	return Unchecked, false
}

// Models lists the known model names.
func Models() []string {
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		out = append(out, v.Model)
	}
	return out
}

// Known reports whether v came from the model table rather than Unchecked.
func (v Variant) Known() bool { return v.known }

// DualView reports whether the model carries an external probe sharing the temperature field.
func (v Variant) DualView() bool { return v.known && v.dualView }

// Shape is the expected advertisement shape, used in rejection logs.
func (v Variant) Shape() Shape {
	return Shape{
		DataLength:   v.dataLength,
		LocalName:    v.localName,
		ServiceData:  v.serviceData,
		ServiceUUIDs: v.serviceUUID,
	}
}
