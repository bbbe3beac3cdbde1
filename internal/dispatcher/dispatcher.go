package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buoy-svr/internal/codec"
	"buoy-svr/internal/observability"
	"buoy-svr/internal/pipeline"
)

// Sink receives every successfully decoded reading. Implementations must be
// safe for concurrent use.
type Sink interface {
	Name() string
	Handle(ctx context.Context, r *pipeline.Reading) error
}

// Incoming is one raw frame as delivered by a transport.
type Incoming struct {
	DeviceID  string
	Source    string
	Data      []byte
	SampledAt time.Time // zero when the transport carries no timestamp
	Batch     bool
}

type Dispatcher struct {
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

func New(lg *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: lg.With("component", "dispatcher"),
		now:    time.Now,
	}
}

// Register adds a sink. Sinks run in registration order.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
	d.logger.Info("sink registered", "sink", s.Name())
}

func (d *Dispatcher) SinkNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s.Name())
	}
	return out
}

// ProcessIncoming decodes one frame and hands the reading to every sink.
// A malformed frame is dropped before any sink sees it. Sink failures do not
// stop the fan-out; they are returned joined together with the reading.
func (d *Dispatcher) ProcessIncoming(ctx context.Context, in Incoming) (*pipeline.Reading, error) {
	start := time.Now()
	defer observability.ObserveDecodeLatency(start)

	observability.FramesRecv.WithLabelValues(in.Source).Inc()

	m, err := codec.Decode(in.Data)
	if err != nil {
		observability.DecodeErrors.WithLabelValues(in.Source).Inc()
		d.logger.Warn("frame dropped",
			"device", in.DeviceID,
			"source", in.Source,
			"len", len(in.Data),
			"err", err,
		)
		return nil, fmt.Errorf("device %s: %w", in.DeviceID, err)
	}
	observability.FramesDecoded.WithLabelValues(in.Source).Inc()
	observability.SetLastValues(in.DeviceID, m)

	r := pipeline.BuildReading(in.DeviceID, in.Source, in.SampledAt, d.now(), in.Data, m, in.Batch)
	d.logger.Debug("frame decoded",
		"device", r.DeviceID,
		"source", r.Source,
		"frame", r.FrameHex,
		"valid", r.Valid,
	)

	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Handle(ctx, r); err != nil {
			observability.SinkErrors.WithLabelValues(s.Name()).Inc()
			d.logger.Error("sink failed", "sink", s.Name(), "device", r.DeviceID, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return r, errors.Join(errs...)
}
