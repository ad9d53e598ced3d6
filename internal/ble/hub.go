package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cloudpico-thermo/internal/utils"
)

// ErrPoweredOff is returned by StartScan while the radio is unavailable.
var ErrPoweredOff = errors.New("radio powered off")

// RetryInterval is how often the Hub retries enabling an unavailable adapter.
const RetryInterval = 5 * time.Second

// Listener receives radio events. Calls arrive on radio goroutines and must not block.
type Listener interface {
	Discovered(adv Advertisement)
	PowerChanged(poweredOn bool)
}

// Hub shares one radio between several schedulers. The adapter scans while
// at least one owner holds a scan; discoveries go to owners holding one.
type Hub struct {
	scanner Scanner
	logger  *slog.Logger

	mu        sync.Mutex
	powered   bool
	scanning  bool
	stopping  bool
	owners    map[string]struct{}
	listeners map[string]Listener

	lost chan struct{}
}

func NewHub(scanner Scanner, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		scanner:   scanner,
		logger:    logger,
		owners:    make(map[string]struct{}),
		listeners: make(map[string]Listener),
		lost:      make(chan struct{}, 1),
	}
}

// Subscribe registers l under owner for discovery and power events.
func (h *Hub) Subscribe(owner string, l Listener) {
	h.mu.Lock()
	h.listeners[owner] = l
	h.mu.Unlock()
}

func (h *Hub) PoweredOn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.powered
}

// StartScan takes a scan on behalf of owner, starting the adapter if idle.
func (h *Hub) StartScan(owner string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.powered {
		return ErrPoweredOff
	}
	h.owners[owner] = struct{}{}
	if !h.scanning {
		h.scanning = true
		h.stopping = false
		go h.scan()
	}
	return nil
}

// StopScan releases owner's scan. Stops from owners that hold no scan are
// ignored; the adapter stops once the last owner has released.
func (h *Hub) StopScan(owner string) {
	h.mu.Lock()
	if _, ok := h.owners[owner]; !ok {
		h.mu.Unlock()
		h.logger.Debug("ble: stop from non-owner ignored", "owner", owner)
		return
	}
	delete(h.owners, owner)
	stop := len(h.owners) == 0 && h.scanning && !h.stopping
	if stop {
		h.stopping = true
	}
	h.mu.Unlock()

	if stop {
		h.stopAdapter()
	}
}

func (h *Hub) stopAdapter() {
	if err := h.scanner.StopScan(); err != nil {
		h.logger.Debug("ble: stop scan", "error", err)
	}
}

// Run enables the adapter, retrying every RetryInterval while it is
// unavailable, and reports power transitions to listeners until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for {
		if err := h.scanner.Enable(); err != nil {
			h.logger.Warn("ble: adapter unavailable", "error", err, "retry_in", RetryInterval)
			h.setPowered(false)
		} else {
			h.setPowered(true)
			select {
			case <-ctx.Done():
				h.shutdown()
				return nil
			case <-h.lost:
				h.setPowered(false)
			}
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case <-time.After(RetryInterval):
		}
	}
}

func (h *Hub) scan() {
	h.logger.Info("ble: scanning started")
	err := h.scanner.Scan(h.dispatch)

	h.mu.Lock()
	h.scanning = false
	requested := h.stopping
	h.stopping = false
	failed := err != nil && !requested
	// Owners that arrived while the previous scan was winding down.
	restart := !failed && h.powered && len(h.owners) > 0
	if restart {
		h.scanning = true
	}
	h.mu.Unlock()

	if failed {
		h.logger.Error("ble: scan failed", "error", err)
		select {
		case h.lost <- struct{}{}:
		default:
		}
		return
	}
	h.logger.Info("ble: scanning stopped")
	if restart {
		go h.scan()
	}
}

func (h *Hub) dispatch(adv Advertisement) {
	h.mu.Lock()
	targets := make([]Listener, 0, len(h.owners))
	for owner := range h.owners {
		if l, ok := h.listeners[owner]; ok {
			targets = append(targets, l)
		}
	}
	// A scan whose owners all left before the adapter was running.
	stop := len(h.owners) == 0 && h.scanning && !h.stopping
	if stop {
		h.stopping = true
	}
	h.mu.Unlock()

	if stop {
		h.stopAdapter()
		return
	}
	for _, l := range targets {
		l.Discovered(adv)
	}
}

func (h *Hub) setPowered(on bool) {
	h.mu.Lock()
	changed := h.powered != on
	h.powered = on
	if !on {
		h.owners = make(map[string]struct{})
	}
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()

	if !changed {
		return
	}
	if on {
		h.logger.Info("ble: adapter powered on")
	} else {
		h.logger.Warn("ble: adapter powered off")
	}
	for _, l := range listeners {
		l.PowerChanged(on)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.owners = make(map[string]struct{})
	stop := h.scanning && !h.stopping
	if stop {
		h.stopping = true
	}
	h.mu.Unlock()
	if stop {
		h.stopAdapter()
	}
}

// LogUnknown writes the debug dump used when onboarding new models.
func LogUnknown(logger *slog.Logger, msg string, adv Advertisement) {
	logger.Debug(msg,
		"addr", adv.Address,
		"rssi", adv.RSSI,
		"name", adv.LocalName,
		"uuids", adv.ServiceUUIDs,
		"data", utils.BytesToHex(adv.ManufacturerData),
	)
}
