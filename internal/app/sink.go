package app

import (
	"context"
	"log/slog"
	"time"

	"cloudpico-thermo/internal/history"
	"cloudpico-thermo/internal/types"
)

const sinkBuffer = 64

type readingPublisher interface {
	PublishReading(r types.Reading) error
	PublishSensorHealth(h types.SensorHealth) error
}

// sink fans finished cycles out to MQTT and the history store on one
// goroutine, so scheduler goroutines never wait on I/O.
type sink struct {
	in        chan types.Reading
	repo      history.Repository
	publisher readingPublisher
	logger    *slog.Logger
	lastSeen  map[string]time.Time
}

// newSink accepts nil repo or publisher to skip that destination.
func newSink(repo history.Repository, publisher readingPublisher, logger *slog.Logger) *sink {
	return &sink{
		in:        make(chan types.Reading, sinkBuffer),
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		lastSeen:  make(map[string]time.Time),
	}
}

// Offer queues r without blocking. Readings are dropped when the worker falls behind.
func (s *sink) Offer(r types.Reading) {
	select {
	case s.in <- r:
	default:
		s.logger.Warn("reading sink full, dropping reading", "sensor", r.Sensor)
	}
}

// Run handles readings until ctx is done, then drains what is already queued.
func (s *sink) Run(ctx context.Context) {
	for {
		select {
		case r := <-s.in:
			s.handle(ctx, r)
		case <-ctx.Done():
			for {
				select {
				case r := <-s.in:
					s.handle(context.Background(), r)
				default:
					return
				}
			}
		}
	}
}

func (s *sink) handle(ctx context.Context, r types.Reading) {
	if s.repo != nil {
		if err := s.repo.InsertReading(ctx, r); err != nil {
			s.logger.Error("history insert failed", "sensor", r.Sensor, "error", err)
		}
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishReading(r); err != nil {
		s.logger.Warn("reading not published", "sensor", r.Sensor, "error", err)
	}

	health := types.SensorHealth{Sensor: r.Sensor, Healthy: r.Healthy()}
	if health.Healthy {
		s.lastSeen[r.Sensor] = r.Timestamp
	}
	health.LastSeen = s.lastSeen[r.Sensor]
	if health.LastSeen.IsZero() {
		health.LastSeen = r.Timestamp
	}
	if err := s.publisher.PublishSensorHealth(health); err != nil {
		s.logger.Warn("sensor health not published", "sensor", r.Sensor, "error", err)
	}
}

// pruneLoop deletes readings older than retention once an hour.
func pruneLoop(ctx context.Context, repo history.Repository, retention time.Duration, logger *slog.Logger) {
	if repo == nil || retention <= 0 {
		return
	}
	prune := func() {
		n, err := repo.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("history prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("history pruned", "rows", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
