package archive

import (
	"context"
	"database/sql"
	"fmt"

	"buoy-svr/internal/pipeline"
)

const maxRecent = 1000

// Repository stores every reading for later inspection.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, rd *pipeline.Reading) error {
	m := rd.Measurement
	_, err := r.db.ExecContext(ctx, `INSERT INTO readings (
  device_id, source, dt, received_at, frame_hex, msg_type, valid,
  info, temperature, humidity, air_pressure, acceleration, battery,
  cpu_temperature, significant_wave_height, average_wave_height, average_period
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rd.DeviceID, rd.Source, rd.Datetime, rd.ReceivedAt, rd.FrameHex, rd.MsgType, rd.Valid,
		m.Info, m.Temperature, m.Humidity, m.AirPressure, m.Acceleration, m.Battery,
		m.CPUTemperature, m.SignificantWaveHeight, m.AverageWaveHeight, m.AveragePeriod,
	)
	if err != nil {
		return fmt.Errorf("insert reading %s: %w", rd.DeviceID, err)
	}
	return nil
}

// Recent returns up to limit readings of a device, newest first.
func (r *Repository) Recent(ctx context.Context, deviceID string, limit int) ([]pipeline.Reading, error) {
	if limit <= 0 || limit > maxRecent {
		limit = maxRecent
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
  device_id, source, dt, received_at, frame_hex, msg_type, valid,
  info, temperature, humidity, air_pressure, acceleration, battery,
  cpu_temperature, significant_wave_height, average_wave_height, average_period
FROM readings WHERE device_id = ? ORDER BY id DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []pipeline.Reading
	for rows.Next() {
		var rd pipeline.Reading
		m := &rd.Measurement
		if err := rows.Scan(
			&rd.DeviceID, &rd.Source, &rd.Datetime, &rd.ReceivedAt, &rd.FrameHex, &rd.MsgType, &rd.Valid,
			&m.Info, &m.Temperature, &m.Humidity, &m.AirPressure, &m.Acceleration, &m.Battery,
			&m.CPUTemperature, &m.SignificantWaveHeight, &m.AverageWaveHeight, &m.AveragePeriod,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *Repository) Name() string { return "sqlite" }

func (r *Repository) Handle(ctx context.Context, rd *pipeline.Reading) error {
	return r.Insert(ctx, rd)
}
