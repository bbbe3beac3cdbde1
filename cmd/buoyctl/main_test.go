package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buoy-svr/internal/codec"
	"buoy-svr/internal/dispatcher"
	"buoy-svr/internal/pipeline"
	"buoy-svr/internal/server"
	"buoy-svr/internal/waves"
)

func TestDecodeOne(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, decodeOne(&out, "01 16 32 3c 19 0a 00 03 02 04 1e 0a 64 00 32 00 0a 00"))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 22.5, got["Temperature"])
	assert.Equal(t, 60.25, got["Humidity"])
	assert.InDelta(t, 30.1, got["CPU_temperature"], 1e-9)
	assert.Equal(t, float64(100), got["Significant_wave_height"])
}

func TestDecodeOneShortFrame(t *testing.T) {
	err := decodeOne(io.Discard, "0116")
	assert.True(t, errors.Is(err, codec.ErrMalformedFrame))
}

func TestDecodeLines(t *testing.T) {
	in := strings.NewReader("0116323c190a000302041e0a640032000a00\n\nzz\n0116\n")
	var out bytes.Buffer
	err := decodeLines(in, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 frames")

	dec := json.NewDecoder(&out)
	var first codec.Measurement
	require.NoError(t, dec.Decode(&first))
	assert.Equal(t, 3, first.Acceleration)
	assert.False(t, dec.More(), "failed lines must not produce output")
}

func TestDecodeCommandKeepsStdoutClean(t *testing.T) {
	defer func() { logger = slog.Default() }()
	var stdout, stderr bytes.Buffer
	rootCmd.SetIn(strings.NewReader("0116323c190a000302041e0a640032000a00\nzz\n"))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"decode"})
	defer func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)

	dec := json.NewDecoder(&stdout)
	var m codec.Measurement
	require.NoError(t, dec.Decode(&m))
	assert.Equal(t, 22.5, m.Temperature)
	assert.False(t, dec.More())
	assert.Contains(t, stderr.String(), "failed to decode frame")
}

func TestSynthesizeEncodes(t *testing.T) {
	opts := simOpts
	opts.Height = 2.0
	m, err := synthesize(rand.New(rand.NewSource(1)), opts)
	require.NoError(t, err)

	assert.Greater(t, m.SignificantWaveHeight, 100)
	assert.Less(t, m.SignificantWaveHeight, 250)
	assert.InDelta(t, 800, m.AveragePeriod, 20)

	frame, err := codec.Encode(m)
	require.NoError(t, err)
	back, err := codec.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, m.SignificantWaveHeight, back.SignificantWaveHeight)
	assert.InDelta(t, m.Battery, back.Battery, 0.005)
}

func TestSwellMilliG(t *testing.T) {
	raw := swellMilliG(rand.New(rand.NewSource(3)), 2.0, 8.0, 0.01, 4800)
	require.Len(t, raw, 4800)

	peak := int16(0)
	for _, v := range raw {
		if v > peak {
			peak = v
		}
	}
	// 1 m amplitude at 8 s is about 63 milli-g
	assert.InDelta(t, 63, int(peak), 5)

	samples := waves.FromMilliG(raw)
	assert.InDelta(t, 8.0, waves.PeakPeriod(samples, 0.01), 0.01)
}

type collectSink struct {
	mu   sync.Mutex
	seen []*pipeline.Reading
}

func (s *collectSink) Name() string { return "collect" }

func (s *collectSink) Handle(_ context.Context, r *pipeline.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, r)
	return nil
}

func TestSimulateAgainstServer(t *testing.T) {
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	logger = lg
	sink := &collectSink{}
	d := dispatcher.New(lg)
	d.Register(sink)
	srv := server.New(d, lg, server.Options{})

	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.HandleConnection(context.Background(), conn)
		close(done)
	}()

	opts := simOpts
	opts.DeviceID = "sim-test"
	opts.Frames = 3
	opts.Interval = 0
	require.NoError(t, simulate(context.Background(), client, opts))
	require.NoError(t, client.Close())
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.seen, 3)
	for _, r := range sink.seen {
		assert.Equal(t, "sim-test", r.DeviceID)
		assert.Equal(t, 1, r.Valid)
		assert.Greater(t, r.SignificantWaveHeight, 0)
	}
}

func TestSimulateRejectsEmptyDevice(t *testing.T) {
	opts := simOpts
	opts.DeviceID = ""
	assert.Error(t, simulate(context.Background(), &bytes.Buffer{}, opts))
}
