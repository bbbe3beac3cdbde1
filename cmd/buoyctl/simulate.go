package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/spf13/cobra"

	"buoy-svr/internal/codec"
	"buoy-svr/internal/waves"
)

type simOptions struct {
	Addr     string
	DeviceID string
	Frames   int
	Interval time.Duration
	Height   float64 // metres, crest to trough
	Period   float64 // seconds
	Seed     int64
}

var simOpts = simOptions{
	Addr:     "localhost:8001",
	DeviceID: "sim-01",
	Frames:   5,
	Interval: time.Second,
	Height:   1.0,
	Period:   8.0,
	Seed:     1,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Stream synthetic frames to the TCP ingest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", simOpts.Addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", simOpts.Addr, err)
		}
		defer conn.Close()
		return simulate(ctx, conn, simOpts)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOpts.Addr, "addr", simOpts.Addr, "TCP ingest address")
	f.StringVar(&simOpts.DeviceID, "device", simOpts.DeviceID, "device id sent in the handshake")
	f.IntVar(&simOpts.Frames, "frames", simOpts.Frames, "number of frames to send")
	f.DurationVar(&simOpts.Interval, "interval", simOpts.Interval, "pause between frames")
	f.Float64Var(&simOpts.Height, "height", simOpts.Height, "swell height in metres")
	f.Float64Var(&simOpts.Period, "period", simOpts.Period, "swell period in seconds")
	f.Int64Var(&simOpts.Seed, "seed", simOpts.Seed, "random seed for sensor noise")
}

func simulate(ctx context.Context, rw io.ReadWriter, opts simOptions) error {
	if len(opts.DeviceID) == 0 || len(opts.DeviceID) > 255 {
		return fmt.Errorf("device id must be 1..255 bytes")
	}
	hs := append([]byte{0x00, byte(len(opts.DeviceID))}, opts.DeviceID...)
	if _, err := rw.Write(hs); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(rw, ack); err != nil {
		return fmt.Errorf("handshake ack: %w", err)
	}
	if ack[0] != 0x01 {
		return fmt.Errorf("handshake rejected: 0x%02x", ack[0])
	}
	logger.Info("handshake accepted", "device", opts.DeviceID)

	rng := rand.New(rand.NewSource(opts.Seed))
	for i := 0; i < opts.Frames; i++ {
		if i > 0 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		m, err := synthesize(rng, opts)
		if err != nil {
			return err
		}
		frame, err := codec.Encode(m)
		if err != nil {
			return err
		}
		if _, err := rw.Write(frame); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		var cnt [4]byte
		if _, err := io.ReadFull(rw, cnt[:]); err != nil {
			return fmt.Errorf("frame %d ack: %w", i, err)
		}
		logger.Info("frame sent",
			"n", i+1,
			"decoded", binary.BigEndian.Uint32(cnt[:]),
			"sig_height_cm", m.SignificantWaveHeight,
			"period_cs", m.AveragePeriod,
		)
	}
	return nil
}

// swellMilliG samples the vertical acceleration of a sine swell as the
// accelerometer reports it: int16 counts in milli-g with some sensor noise.
func swellMilliG(rng *rand.Rand, height, period, dt float64, n int) []int16 {
	w := 2 * math.Pi / period
	a := height / 2
	out := make([]int16, n)
	for i := range out {
		acc := -a * w * w * math.Sin(w*float64(i)*dt)
		mg := acc/waves.Gravity*1000 + rng.NormFloat64()
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(mg))))
	}
	return out
}

// synthesize runs a noisy swell through the wave analyser and fills the
// remaining sensors with plausible values.
func synthesize(rng *rand.Rand, opts simOptions) (codec.Measurement, error) {
	cfg := waves.DefaultConfig()
	n := int(math.Ceil(8*opts.Period/cfg.SamplingTime)) + 4*cfg.GradientSpan
	samples := waves.FromMilliG(swellMilliG(rng, opts.Height, opts.Period, cfg.SamplingTime, n))
	st, err := waves.Analyze(samples, cfg)
	if err != nil {
		return codec.Measurement{}, err
	}
	logger.Debug("wave window",
		"samples", n,
		"avg_height_m", st.AverageHeight,
		"period_s", st.AveragePeriod,
		"peak_period_s", waves.PeakPeriod(samples, cfg.SamplingTime),
	)
	sig, avg, per := st.Wire()

	round := func(v float64) float64 { return math.Round(v*100) / 100 }
	return codec.Measurement{
		Info:                  1,
		Temperature:           round(14 + rng.Float64()*4),
		Humidity:              round(70 + rng.Float64()*20),
		AirPressure:           math.Round((1005+rng.Float64()*20)*10) / 10,
		Acceleration:          int(math.Min(255, opts.Height*10)),
		Battery:               round(3.7 + rng.Float64()*0.4),
		CPUTemperature:        round(25 + rng.Float64()*10),
		SignificantWaveHeight: sig,
		AverageWaveHeight:     avg,
		AveragePeriod:         per,
	}, nil
}
