package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles      *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	requests    *prometheus.CounterVec
	state       *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	battery     *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermo_scan_cycles_total",
			Help: "Completed scan cycles by sensor and outcome.",
		}, []string{"sensor", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermo_plausibility_rejections_total",
			Help: "Advertisements rejected by the plausibility filter.",
		}, []string{"sensor", "reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermo_poll_requests_total",
			Help: "Poll requests resolved, by quantity and availability.",
		}, []string{"sensor", "quantity", "result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermo_scheduler_state",
			Help: "Scheduler state (0 radio off, 1 idle, 2 scanning, 3 reading ready).",
		}, []string{"sensor"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermo_temperature_celsius",
			Help: "Last decoded temperature.",
		}, []string{"sensor"}),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermo_humidity_percent",
			Help: "Last decoded relative humidity.",
		}, []string{"sensor"}),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermo_battery_percent",
			Help: "Last decoded battery level.",
		}, []string{"sensor"}),
	}

	reg.MustRegister(
		m.cycles,
		m.rejections,
		m.requests,
		m.state,
		m.temperature,
		m.humidity,
		m.battery,
	)
	return m
}

// ObserveCycle counts a finished scan and updates the value gauges for
// whichever values were decoded.
func (m *Metrics) ObserveCycle(sensor, outcome string, temperature, humidity *float64, battery *int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(sensor, outcome).Inc()
	if temperature != nil {
		m.temperature.WithLabelValues(sensor).Set(*temperature)
	}
	if humidity != nil {
		m.humidity.WithLabelValues(sensor).Set(*humidity)
	}
	if battery != nil {
		m.battery.WithLabelValues(sensor).Set(float64(*battery))
	}
}

func (m *Metrics) ObserveRejection(sensor, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(sensor, reason).Inc()
}

func (m *Metrics) ObserveRequest(sensor, quantity string, available bool) {
	if m == nil {
		return
	}
	result := "unavailable"
	if available {
		result = "value"
	}
	m.requests.WithLabelValues(sensor, quantity, result).Inc()
}

func (m *Metrics) SetState(sensor string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(sensor).Set(float64(state))
}
