package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-thermo/internal/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

//go:embed sql/prune-readings.sql
var pruneReadingsSQL string

// tsLayout is fixed width so timestamps order correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// MaxLimit caps how many rows one history query returns.
const MaxLimit = 1000

type Repository interface {
	InsertReading(ctx context.Context, r types.Reading) error
	LatestReadings(ctx context.Context, sensor string, limit int) ([]types.Reading, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertReading(ctx context.Context, rec types.Reading) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var address any
	if rec.Address != "" {
		address = rec.Address
	}

	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		rec.Sensor, rec.Model, address, ts.UTC().Format(tsLayout), rec.Outcome,
		nullFloat(rec.Temperature), nullFloat(rec.InternalTemperature), nullFloat(rec.ExternalTemperature),
		nullFloat(rec.Humidity), rec.ExternalActive, nullInt(rec.Battery), rec.LowBattery, rec.CRC,
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (r *repositoryImpl) LatestReadings(ctx context.Context, sensor string, limit int) ([]types.Reading, error) {
	if limit <= 0 || limit > MaxLimit {
		return nil, fmt.Errorf("limit %d out of range (1..%d)", limit, MaxLimit)
	}
	rows, err := r.db.QueryContext(ctx, getLatestReadingsSQL, sensor, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

// Prune deletes readings older than before and returns how many went.
func (r *repositoryImpl) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, pruneReadingsSQL, before.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return res.RowsAffected()
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	out := []types.Reading{}
	for rows.Next() {
		var (
			rec                          types.Reading
			address                      sql.NullString
			ts                           string
			temp, internal, external, hu sql.NullFloat64
			battery                      sql.NullInt64
		)
		if err := rows.Scan(&rec.Sensor, &rec.Model, &address, &ts, &rec.Outcome,
			&temp, &internal, &external, &hu,
			&rec.ExternalActive, &battery, &rec.LowBattery, &rec.CRC); err != nil {
			return nil, err
		}
		t, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		rec.Timestamp = t
		rec.Address = address.String
		rec.Temperature = floatPtr(temp)
		rec.InternalTemperature = floatPtr(internal)
		rec.ExternalTemperature = floatPtr(external)
		rec.Humidity = floatPtr(hu)
		if battery.Valid {
			b := int(battery.Int64)
			rec.Battery = &b
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
