package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloudpico-thermo/internal/history"
	"cloudpico-thermo/internal/poller"
	"cloudpico-thermo/internal/types"
	"cloudpico-thermo/internal/utils"

	"github.com/gorilla/mux"
)

const defaultHistoryLimit = 20

type sensorController struct {
	sensors     map[string]Sensor
	order       []string
	history     history.Repository
	pollTimeout time.Duration
}

// sensorView is the GET /sensors/{name} body. Reading is null before the first cycle.
type sensorView struct {
	Name    string         `json:"name"`
	Model   string         `json:"model"`
	Reading *types.Reading `json:"reading"`
}

// valueView answers a single quantity. Value is null when no value is available.
type valueView struct {
	Sensor    string   `json:"sensor"`
	Quantity  string   `json:"quantity"`
	Value     *float64 `json:"value"`
	Available bool     `json:"available"`
}

func newSensorController(deps Deps) *sensorController {
	c := &sensorController{
		sensors:     make(map[string]Sensor, len(deps.Sensors)),
		history:     deps.History,
		pollTimeout: deps.PollTimeout,
	}
	for _, s := range deps.Sensors {
		c.sensors[s.Name()] = s
		c.order = append(c.order, s.Name())
	}
	return c
}

func (c *sensorController) lookup(w http.ResponseWriter, r *http.Request) (Sensor, bool) {
	name := mux.Vars(r)["name"]
	s, ok := c.sensors[name]
	if !ok {
		utils.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown sensor %q", name))
	}
	return s, ok
}

func view(s Sensor) sensorView {
	v := sensorView{Name: s.Name(), Model: s.Model()}
	snap := s.Snapshot()
	if snap.Outcome != poller.OutcomeNone {
		rec := types.NewReading(snap, s.Model())
		v.Reading = &rec
	}
	return v
}

func (c *sensorController) handleList(w http.ResponseWriter, r *http.Request) {
	out := make([]sensorView, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, view(c.sensors[name]))
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

func (c *sensorController) handleSensor(w http.ResponseWriter, r *http.Request) {
	s, ok := c.lookup(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, view(s))
}

func (c *sensorController) handleHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := c.lookup(w, r)
	if !ok {
		return
	}
	if c.history == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	limit, err := utils.QueryInt(r, "limit", defaultHistoryLimit, 1, history.MaxLimit)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.history.LatestReadings(r.Context(), s.Name(), limit)
	if err != nil {
		slog.Error("history query failed", "sensor", s.Name(), "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

// handleQuantity triggers a poll and waits for the cycle to answer it.
func (c *sensorController) handleQuantity(w http.ResponseWriter, r *http.Request) {
	s, ok := c.lookup(w, r)
	if !ok {
		return
	}
	q, err := poller.ParseQuantity(mux.Vars(r)["quantity"])
	if err != nil {
		utils.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.pollTimeout)
	defer cancel()

	res, err := s.Poll(ctx, q)
	switch {
	case errors.Is(err, poller.ErrClosed):
		utils.WriteError(w, http.StatusServiceUnavailable, "sensor is shutting down")
		return
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("poll timed out", "sensor", s.Name(), "quantity", q.String(), "timeout", c.pollTimeout)
	case err != nil:
		// Client went away; nothing useful to write.
		return
	}

	out := valueView{Sensor: s.Name(), Quantity: q.String(), Available: res.Available}
	if res.Available {
		v := res.Value
		out.Value = &v
	}
	utils.WriteJSON(w, http.StatusOK, out)
}
