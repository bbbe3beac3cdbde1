package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api/write"

	"buoy-svr/internal/pipeline"
)

const measurementName = "buoy.measurement"

// PointWriter is the part of api.WriteAPI the sink needs.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Sink turns every reading into one InfluxDB point. Writes are buffered by the
// client and flushed in the background.
type Sink struct {
	w PointWriter
}

func NewSink(w PointWriter) *Sink {
	return &Sink{w: w}
}

func (s *Sink) Name() string { return "influx" }

func (s *Sink) Handle(_ context.Context, r *pipeline.Reading) error {
	ts, err := time.Parse(time.RFC3339Nano, r.Datetime)
	if err != nil {
		return fmt.Errorf("reading time %q: %w", r.Datetime, err)
	}
	fields := pipeline.Fields(r)
	fields["valid"] = r.Valid
	fields["msg_type"] = r.MsgType

	s.w.WritePoint(influxdb2.NewPoint(measurementName,
		map[string]string{
			"device": r.DeviceID,
			"source": r.Source,
		},
		fields, ts))
	return nil
}
