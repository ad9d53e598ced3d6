package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloudpico-thermo/internal/ble"
	"cloudpico-thermo/internal/logging"
	"cloudpico-thermo/internal/metrics"
	"cloudpico-thermo/internal/utils"
)

const (
	radioRetryInterval = ble.RetryInterval
	discoveryTimeout   = 15 * time.Second
	minFreshness       = 10 * time.Second
	minRefreshInterval = 5 * time.Second
)

// Radio is the shared radio as seen by one scheduler.
type Radio interface {
	PoweredOn() bool
	StartScan(owner string) error
	StopScan(owner string)
}

// Options configures a Scheduler. Name doubles as the radio owner id.
type Options struct {
	Name string
	// Model is the configured model name; it defaults to Variant.Model.
	Model       string
	Variant     ble.Variant
	Address     string
	Interval    time.Duration
	Calibration ble.Calibration
	Selection   ble.Selection

	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnReading is called on the scheduler goroutine after every cycle and must not block.
	OnReading func(Snapshot)
}

// Scheduler runs the scan cycle for one sensor. All state below the queue
// is owned by the goroutine running Run; other goroutines only post events.
type Scheduler struct {
	opts   Options
	radio  Radio
	clock  Clock
	logger *slog.Logger

	state    State
	powered  bool
	scanning bool
	timer    Timer
	timerGen uint64
	elapsed  bool
	accepted *ble.Advertisement
	pending  [quantityCount]func(Result)
	fault    error

	snapshot atomic.Pointer[Snapshot]

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
}

type event interface{ isEvent() }

type powerEvent struct{ on bool }
type discoveryEvent struct{ adv ble.Advertisement }
type timerEvent struct{ gen uint64 }
type requestEvent struct {
	q    Quantity
	done func(Result)
}

func (powerEvent) isEvent()     {}
func (discoveryEvent) isEvent() {}
func (timerEvent) isEvent()     {}
func (requestEvent) isEvent()   {}

// ErrClosed is returned by Poll once the scheduler has stopped.
var ErrClosed = errors.New("scheduler stopped")

func New(radio Radio, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval > 0 && opts.Interval < minRefreshInterval {
		opts.Interval = minRefreshInterval
	}
	if opts.Model == "" {
		opts.Model = opts.Variant.Model
	}
	opts.Address = utils.NormalizeAddress(opts.Address)

	s := &Scheduler{
		opts:   opts,
		radio:  radio,
		clock:  opts.Clock,
		logger: opts.Logger.With("sensor", opts.Name),
		state:  StateRadioOff,
		wake:   make(chan struct{}, 1),
	}
	s.snapshot.Store(&Snapshot{Sensor: opts.Name})
	return s
}

func (s *Scheduler) Name() string         { return s.opts.Name }
func (s *Scheduler) Model() string        { return s.opts.Model }
func (s *Scheduler) Variant() ble.Variant { return s.opts.Variant }

// Snapshot returns the last cached cycle. Safe from any goroutine.
func (s *Scheduler) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Discovered implements ble.Listener.
func (s *Scheduler) Discovered(adv ble.Advertisement) { s.post(discoveryEvent{adv: adv}) }

// PowerChanged implements ble.Listener.
func (s *Scheduler) PowerChanged(on bool) { s.post(powerEvent{on: on}) }

// Request registers a one-shot continuation for q. done is called exactly
// once on the scheduler goroutine, with a value or unavailable. A pending
// request for the same quantity is answered unavailable and replaced.
// After the scheduler has stopped, done is called immediately with unavailable.
func (s *Scheduler) Request(q Quantity, done func(Result)) {
	if !s.post(requestEvent{q: q, done: done}) {
		done(Result{Quantity: q})
	}
}

// Poll requests q and waits for the answer. Only ctx expiry or a stopped
// scheduler produce an error; an unavailable value is a Result.
func (s *Scheduler) Poll(ctx context.Context, q Quantity) (Result, error) {
	ch := make(chan Result, 1)
	if !s.post(requestEvent{q: q, done: func(r Result) { ch <- r }}) {
		return Result{Quantity: q}, ErrClosed
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Result{Quantity: q}, ctx.Err()
	}
}

// Run processes events until ctx is done. Only one Run may be active.
// Requests posted before Run are served once the radio state is known.
// A frame shorter than the sensor layout stops the scheduler; Run then
// returns an error wrapping ble.ErrOutOfRange.
func (s *Scheduler) Run(ctx context.Context) error {
	s.handle(powerEvent{on: s.radio.PoweredOn()})
	s.drain()
	for s.fault == nil {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.wake:
			s.drain()
		}
	}
	s.shutdown()
	return s.fault
}

func (s *Scheduler) post(ev event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) drain() {
	for s.fault == nil {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handle(ev)
	}
}

// handle applies one input and then runs the state logic to a fixpoint.
func (s *Scheduler) handle(ev event) {
	switch e := ev.(type) {
	case powerEvent:
		if s.powered != e.on {
			s.logger.Info("radio power changed", "powered_on", e.on)
		}
		s.powered = e.on
	case discoveryEvent:
		s.discovered(e.adv)
	case timerEvent:
		if e.gen != s.timerGen || s.timer == nil {
			return
		}
		s.timer = nil
		s.elapsed = true
	case requestEvent:
		s.enqueue(e.q, e.done)
	}

	for s.step() {
	}
}

// step evaluates the current state once and reports whether anything
// changed that requires another evaluation.
func (s *Scheduler) step() bool {
	if !s.powered && s.state != StateRadioOff {
		s.enterRadioOff()
		return true
	}

	switch s.state {
	case StateRadioOff:
		if s.elapsed {
			s.elapsed = false
			s.powered = s.radio.PoweredOn()
		}
		if s.powered {
			s.cancelTimer()
			s.setState(StateIdle)
			return true
		}
		s.flush(Snapshot{}, "radio powered off")
		if s.timer == nil {
			s.arm(radioRetryInterval)
		}
		return false

	case StateIdle:
		if !s.hasPending() && s.opts.Interval <= 0 {
			return false
		}
		if err := s.radio.StartScan(s.opts.Name); err != nil {
			s.logger.Warn("scan start failed", "error", err)
			s.powered = false
			return true
		}
		s.scanning = true
		s.accepted = nil
		s.arm(discoveryTimeout)
		s.setState(StateScanning)
		s.logger.Debug("scan started", "timeout", discoveryTimeout)
		return true

	case StateScanning:
		if s.accepted == nil && !s.elapsed {
			return false
		}
		s.finishScan()
		return true

	case StateReadingReady:
		if !s.elapsed && !s.hasPending() {
			return false
		}
		s.cancelTimer()
		s.setState(StateIdle)
		return true
	}
	return false
}

func (s *Scheduler) discovered(adv ble.Advertisement) {
	if s.state != StateScanning || s.accepted != nil {
		return
	}

	v := ble.Check(adv, s.opts.Variant, s.opts.Address)
	if !v.Accepted {
		s.opts.Metrics.ObserveRejection(s.opts.Name, string(v.Reason))
		switch {
		case v.Reason == ble.ReasonShape && s.opts.Address != "":
			s.logger.Warn("device at configured address failed plausibility check",
				"addr", adv.Address,
				"expected", v.Expected.String(),
				"found", v.Found.String(),
			)
		case v.Reason == ble.ReasonShape:
			ble.LogUnknown(s.logger, "ignoring unknown device", adv)
		}
		return
	}

	if v.Reason == ble.ReasonUnchecked {
		ble.LogUnknown(s.logger, "accepting device without plausibility check", adv)
	}
	s.logger.Info("sensor found", "addr", adv.Address, "rssi", adv.RSSI)
	s.accepted = &adv
}

func (s *Scheduler) finishScan() {
	s.releaseScan()
	s.cancelTimer()

	snap := s.decode()
	s.snapshot.Store(&snap)
	s.opts.Metrics.ObserveCycle(s.opts.Name, string(snap.Outcome),
		snap.Reading.Temperature, snap.Reading.Humidity, snap.Reading.Battery)

	freshness := s.opts.Interval
	if freshness < minFreshness {
		freshness = minFreshness
	}
	s.arm(freshness)
	s.setState(StateReadingReady)

	s.flush(snap, string(snap.Outcome))
	if s.opts.OnReading != nil {
		s.opts.OnReading(snap)
	}
}

func (s *Scheduler) decode() Snapshot {
	adv := s.accepted
	s.accepted = nil
	snap := Snapshot{Sensor: s.opts.Name, UpdatedAt: s.clock.Now()}

	if adv == nil {
		s.logger.Warn("sensor not found before timeout", "timeout", discoveryTimeout)
		snap.Outcome = OutcomeNotFound
		return snap
	}
	snap.Address = adv.Address

	r, err := ble.ParseSensorPayload(adv.ManufacturerData, s.opts.Variant, s.opts.Calibration, s.opts.Selection)
	switch {
	case errors.Is(err, ble.ErrChecksumMismatch):
		s.logger.Error("crc check failed, frame discarded",
			"addr", adv.Address,
			"error", err,
			"data", utils.BytesToHex(adv.ManufacturerData),
		)
		snap.Outcome = OutcomeCRCMismatch
		snap.Reading = r
		return snap
	case err != nil:
		s.logger.Log(context.Background(), logging.LevelFatal, "payload shorter than the sensor frame",
			"addr", adv.Address,
			"error", err,
			"data", utils.BytesToHex(adv.ManufacturerData),
		)
		s.fault = fmt.Errorf("sensor %s: %w", s.opts.Name, err)
		snap.Outcome = OutcomeInvalid
		return snap
	}

	s.logger.Debug("crc check", "outcome", r.CRC.String(), "data", utils.BytesToHex(adv.ManufacturerData))
	attrs := []any{"crc", r.CRC.String(), "external_active", r.ExternalActive, "low_battery", r.LowBattery}
	if r.Temperature != nil {
		attrs = append(attrs, "temperature", *r.Temperature)
	}
	if r.Humidity != nil {
		attrs = append(attrs, "humidity", *r.Humidity)
	}
	if r.Battery != nil {
		attrs = append(attrs, "battery", *r.Battery)
	}
	s.logger.Info("reading decoded", attrs...)

	snap.Outcome = OutcomeOK
	snap.Reading = r
	return snap
}

func (s *Scheduler) enterRadioOff() {
	s.logger.Warn("radio powered off", "state", s.state.String())
	s.releaseScan()
	s.cancelTimer()
	s.accepted = nil
	s.setState(StateRadioOff)
}

func (s *Scheduler) releaseScan() {
	if !s.scanning {
		return
	}
	s.scanning = false
	s.radio.StopScan(s.opts.Name)
}

func (s *Scheduler) enqueue(q Quantity, done func(Result)) {
	if q < 0 || q >= quantityCount {
		done(Result{Quantity: q})
		return
	}
	if prev := s.pending[q]; prev != nil {
		s.logger.Debug("superseding pending request", "quantity", q.String())
		s.pending[q] = nil
		s.opts.Metrics.ObserveRequest(s.opts.Name, q.String(), false)
		prev(Result{Quantity: q})
	}
	s.pending[q] = done
}

func (s *Scheduler) hasPending() bool {
	for _, done := range s.pending {
		if done != nil {
			return true
		}
	}
	return false
}

// flush answers every pending request from snap. Each slot is cleared
// before its continuation runs.
func (s *Scheduler) flush(snap Snapshot, why string) {
	for q := range s.pending {
		done := s.pending[q]
		if done == nil {
			continue
		}
		s.pending[q] = nil
		res := snap.Value(Quantity(q))
		if !res.Available {
			s.logger.Debug("no value for request", "quantity", Quantity(q).String(), "reason", why)
		}
		s.opts.Metrics.ObserveRequest(s.opts.Name, Quantity(q).String(), res.Available)
		done(res)
	}
}

// arm replaces the live timer. At most one timer is armed at a time.
func (s *Scheduler) arm(d time.Duration) {
	s.cancelTimer()
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() { s.post(timerEvent{gen: gen}) })
}

func (s *Scheduler) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	s.elapsed = false
}

func (s *Scheduler) setState(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("state transition", "from", s.state.String(), "to", next.String())
	s.state = next
	s.opts.Metrics.SetState(s.opts.Name, int(next))
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.closed = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.releaseScan()
	s.cancelTimer()
	for _, ev := range queued {
		if r, ok := ev.(requestEvent); ok {
			s.enqueue(r.q, r.done)
		}
	}
	s.flush(Snapshot{}, "scheduler stopped")
}
