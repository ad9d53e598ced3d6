package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"cloudpico-thermo/internal/history"
	"cloudpico-thermo/internal/poller"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPollTimeout bounds how long a value request waits for a scan cycle.
const DefaultPollTimeout = 30 * time.Second

// Sensor is what the API needs from a running scheduler.
type Sensor interface {
	Name() string
	Model() string
	Snapshot() poller.Snapshot
	Poll(ctx context.Context, q poller.Quantity) (poller.Result, error)
}

type Deps struct {
	DB          *sql.DB
	Sensors     []Sensor
	History     history.Repository
	Gatherer    prometheus.Gatherer
	PollTimeout time.Duration
}

func NewRouter(deps Deps) *mux.Router {
	if deps.PollTimeout <= 0 {
		deps.PollTimeout = DefaultPollTimeout
	}

	r := mux.NewRouter()
	registerHealthcheck(r, deps.DB)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	c := newSensorController(deps)
	r.HandleFunc("/sensors", c.handleList).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{name}", c.handleSensor).Methods(http.MethodGet)
	// Registered before the quantity route so "history" is not taken as a quantity.
	r.HandleFunc("/sensors/{name}/history", c.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{name}/{quantity}", c.handleQuantity).Methods(http.MethodGet)
	return r
}
