package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloudpico-thermo/internal/ble"
	"cloudpico-thermo/internal/config"
	"cloudpico-thermo/internal/db"
	"cloudpico-thermo/internal/history"
	"cloudpico-thermo/internal/httpapi"
	"cloudpico-thermo/internal/metrics"
	"cloudpico-thermo/internal/migrate"
	"cloudpico-thermo/internal/mqtt"
	"cloudpico-thermo/internal/poller"
	"cloudpico-thermo/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqlitePath", cfg.SQLitePath,
		"historyRetention", cfg.HistoryRetention,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"bleAdapter", cfg.BLEAdapter,
		"sensors", len(cfg.Sensors),
	)

	dbConn, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()
	if _, err := migrate.Run(dbConn, logger); err != nil {
		return err
	}
	repo := history.NewRepository(dbConn)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var publisher readingPublisher
	if cfg.MQTTEnabled {
		client, err := mqtt.NewClient(cfg, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		// Paho keeps retrying in the background; do not hold up startup for it.
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.Connect(connectCtx); err != nil {
			logger.Warn("mqtt connection failed (continuing, will retry)", "error", err)
		}
		cancel()
		publisher = client
	}

	scanner, err := ble.NewAdapterScanner(cfg.BLEAdapter)
	if err != nil {
		return err
	}
	hub := ble.NewHub(scanner, logger)

	out := newSink(repo, publisher, logger)
	schedulers := buildSchedulers(cfg.Sensors, hub, m, out, logger)

	var wg sync.WaitGroup
	runCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	start := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	start(func() { out.Run(runCtx) })
	start(func() { pruneLoop(runCtx, repo, cfg.HistoryRetention, logger) })
	start(func() {
		if err := hub.Run(runCtx); err != nil {
			logger.Error("ble hub stopped", "error", err)
		}
	})
	faults := make(chan error, len(schedulers))
	sensors := make([]httpapi.Sensor, 0, len(schedulers))
	for _, s := range schedulers {
		sensors = append(sensors, s)
		start(func() {
			if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				faults <- err
			}
		})
	}

	router := httpapi.NewRouter(httpapi.Deps{
		DB:       dbConn,
		Sensors:  sensors,
		History:  repo,
		Gatherer: reg,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// Value requests may wait a full discovery window.
		WriteTimeout: httpapi.DefaultPollTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	var fault error
	select {
	case <-ctx.Done():
	case fault = <-faults:
		logger.Error("sensor scheduler failed, shutting down", "error", fault)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if fault != nil {
		return fault
	}
	return ctx.Err()
}

// buildSchedulers creates one scheduler per configured sensor and subscribes
// it to the hub. Cycles are forwarded to out.
func buildSchedulers(sensors []config.Sensor, hub *ble.Hub, m *metrics.Metrics, out *sink, logger *slog.Logger) []*poller.Scheduler {
	schedulers := make([]*poller.Scheduler, 0, len(sensors))
	for _, sc := range sensors {
		variant, known := ble.LookupVariant(sc.Model)
		if !known {
			logger.Error("unknown sensor model, plausibility check disabled",
				"sensor", sc.Name,
				"model", sc.Model,
				"known_models", strings.Join(ble.Models(), ", "),
			)
		}

		model := sc.Model
		s := poller.New(hub, poller.Options{
			Name:        sc.Name,
			Model:       model,
			Variant:     variant,
			Address:     sc.Address,
			Interval:    sc.Interval(),
			Calibration: sc.Calibration(),
			Selection:   sc.Selection(),
			Logger:      logger,
			Metrics:     m,
			OnReading: func(snap poller.Snapshot) {
				out.Offer(types.NewReading(snap, model))
			},
		})
		hub.Subscribe(sc.Name, s)
		schedulers = append(schedulers, s)

		logger.Info("sensor configured",
			"sensor", sc.Name,
			"model", sc.Model,
			"address", sc.Address,
			"interval", sc.Interval(),
			"active", sc.Selection().String(),
		)
	}
	return schedulers
}
