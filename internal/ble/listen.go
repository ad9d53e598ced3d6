package ble

import (
	"encoding/binary"
	"fmt"
	"time"

	"cloudpico-thermo/internal/utils"

	"tinygo.org/x/bluetooth"
)

// Scanner is the radio the Hub drives. Scan blocks until StopScan or error.
type Scanner interface {
	Enable() error
	Scan(onAdvertisement func(Advertisement)) error
	StopScan() error
}

// adapterScanner wraps a BlueZ adapter.
type adapterScanner struct {
	adapter *bluetooth.Adapter
}

// NewAdapterScanner opens the named HCI adapter ("hci0" by default).
func NewAdapterScanner(name string) (Scanner, error) {
	if name == "" {
		name = "hci0"
	}
	return &adapterScanner{adapter: bluetooth.NewAdapter(name)}, nil
}

func (s *adapterScanner) Enable() error {
	return s.adapter.Enable()
}

func (s *adapterScanner) Scan(onAdvertisement func(Advertisement)) error {
	return s.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		adv := fromPayload(r.AdvertisementPayload)
		adv.Address = utils.NormalizeAddress(r.Address.String())
		adv.RSSI = r.RSSI
		adv.SeenAt = time.Now()
		onAdvertisement(adv)
	})
}

func (s *adapterScanner) StopScan() error {
	return s.adapter.StopScan()
}

// fromPayload maps the advertised fields. 16-bit service UUIDs are rendered
// as four lower-case hex digits, longer ones in canonical form.
func fromPayload(p bluetooth.AdvertisementPayload) Advertisement {
	adv := Advertisement{LocalName: p.LocalName()}

	// BlueZ splits the first two bytes off as the company identifier; the
	// sensors put payload there, so glue it back on.
	if md := p.ManufacturerData(); len(md) > 0 {
		buf := make([]byte, 2, 2+len(md[0].Data))
		binary.LittleEndian.PutUint16(buf, md[0].CompanyID)
		adv.ManufacturerData = append(buf, md[0].Data...)
	}
	for _, sd := range p.ServiceData() {
		adv.ServiceData = append(adv.ServiceData, sd.Data...)
	}
	for _, u := range p.ServiceUUIDs() {
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, uuidString(u))
	}
	return adv
}

func uuidString(u bluetooth.UUID) string {
	if u.Is16Bit() {
		return fmt.Sprintf("%04x", u.Get16Bit())
	}
	return u.String()
}
