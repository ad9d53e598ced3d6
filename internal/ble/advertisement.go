package ble

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"cloudpico-thermo/internal/utils"
)

// Advertisement is a single observation of a broadcasting device.
// ManufacturerData holds the whole manufacturer-specific field, company
// identifier bytes included.
type Advertisement struct {
	Address          string
	RSSI             int16
	LocalName        string
	ServiceData      []byte
	ServiceUUIDs     []string
	ManufacturerData []byte
	SeenAt           time.Time
}

// Shape is the part of an advertisement the plausibility filter compares.
type Shape struct {
	DataLength   int
	LocalName    string
	ServiceData  []byte
	ServiceUUIDs string
}

// Shape returns the observed shape of the advertisement.
func (a Advertisement) Shape() Shape {
	return Shape{
		DataLength:   len(a.ManufacturerData),
		LocalName:    a.LocalName,
		ServiceData:  a.ServiceData,
		ServiceUUIDs: strings.Join(a.ServiceUUIDs, ","),
	}
}

func (s Shape) Equal(o Shape) bool {
	return s.DataLength == o.DataLength &&
		s.LocalName == o.LocalName &&
		bytes.Equal(s.ServiceData, o.ServiceData) &&
		s.ServiceUUIDs == o.ServiceUUIDs
}

func (s Shape) String() string {
	data := "none"
	if len(s.ServiceData) > 0 {
		data = utils.BytesToHex(s.ServiceData)
	}
	uuids := s.ServiceUUIDs
	if uuids == "" {
		uuids = "none"
	}
	return fmt.Sprintf("(%d, %q, %s, %s)", s.DataLength, s.LocalName, data, uuids)
}
