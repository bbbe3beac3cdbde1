package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buoy-svr/internal/codec"
	"buoy-svr/internal/observability"
	"buoy-svr/internal/pipeline"
)

var exampleFrame = []byte{1, 22, 50, 60, 25, 10, 0, 3, 2, 4, 30, 10, 100, 0, 50, 0, 10, 0}

type recordingSink struct {
	name string
	err  error

	mu       sync.Mutex
	readings []*pipeline.Reading
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, r *pipeline.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func newTestDispatcher() *Dispatcher {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessIncomingFansOut(t *testing.T) {
	d := newTestDispatcher()
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d.Register(a)
	d.Register(b)
	assert.Equal(t, []string{"a", "b"}, d.SinkNames())

	r, err := d.ProcessIncoming(context.Background(), Incoming{DeviceID: "buoy-1", Source: pipeline.SourceTCP, Data: exampleFrame})
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, "buoy-1", r.DeviceID)
	assert.InDelta(t, 22.5, r.Temperature, 1e-9)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestProcessIncomingMalformedFrame(t *testing.T) {
	d := newTestDispatcher()
	s := &recordingSink{name: "s"}
	d.Register(s)

	before := testutil.ToFloat64(observability.DecodeErrors.WithLabelValues("test-short"))
	r, err := d.ProcessIncoming(context.Background(), Incoming{DeviceID: "buoy-1", Source: "test-short", Data: exampleFrame[:16]})

	require.Error(t, err)
	assert.True(t, errors.Is(err, codec.ErrMalformedFrame))
	assert.Nil(t, r)
	assert.Equal(t, 0, s.count())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.DecodeErrors.WithLabelValues("test-short")))
}

func TestProcessIncomingSinkFailureIsolated(t *testing.T) {
	d := newTestDispatcher()
	boom := errors.New("boom")
	bad := &recordingSink{name: "bad", err: boom}
	good := &recordingSink{name: "good"}
	d.Register(bad)
	d.Register(good)

	r, err := d.ProcessIncoming(context.Background(), Incoming{DeviceID: "buoy-2", Source: pipeline.SourceMQTT, Data: exampleFrame})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "bad")
	require.NotNil(t, r)
	assert.Equal(t, 1, good.count())
}
