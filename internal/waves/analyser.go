// Package waves derives wave statistics from vertical acceleration samples
// the way the buoy firmware does before it packs them into a frame.
package waves

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	Gravity = 9.80665

	maxHeight       = 10.0 // metres; taller half-waves are treated as sensor glitches
	significantSpan = 1.5
)

var ErrNotEnoughWaves = errors.New("waves: not enough waves in window")

type Config struct {
	SamplingTime  float64 // seconds between samples
	CutoffFreq    float64 // Hz; 0 disables the low-pass filter
	Order         int     // cascaded first-order stages; 0 disables the filter
	GradientSpan  int     // samples either side used for the direction estimate
	GradientCount int     // consecutive samples a new direction must hold
	Waves         int     // whole waves per analysis
}

func DefaultConfig() Config {
	return Config{
		SamplingTime:  0.01,
		CutoffFreq:    0.4,
		Order:         3,
		GradientSpan:  50,
		GradientCount: 20,
		Waves:         5,
	}
}

func (c Config) validate(n int) error {
	if c.SamplingTime <= 0 {
		return fmt.Errorf("waves: sampling time must be positive, got %v", c.SamplingTime)
	}
	if c.Waves <= 0 {
		return fmt.Errorf("waves: wave count must be positive, got %d", c.Waves)
	}
	if c.GradientSpan <= 0 || c.GradientCount <= 0 {
		return fmt.Errorf("waves: gradient span and count must be positive")
	}
	if n < 2*c.GradientSpan {
		return fmt.Errorf("waves: %d samples is too short for gradient span %d: %w", n, c.GradientSpan, ErrNotEnoughWaves)
	}
	return nil
}

// Stats are in metres and seconds.
type Stats struct {
	SignificantHeight float64
	AverageHeight     float64
	AveragePeriod     float64
	Heights           []float64 // half-wave heights, tallest first
}

// Wire converts the stats to the units carried in a frame: centimetres for
// heights and centiseconds for the period, clamped to 16 bits.
func (s Stats) Wire() (significant, average, period int) {
	return toWire(s.SignificantHeight), toWire(s.AverageHeight), toWire(s.AveragePeriod)
}

func toWire(v float64) int {
	n := math.Round(v * 100)
	switch {
	case n < 0:
		return 0
	case n > math.MaxUint16:
		return math.MaxUint16
	}
	return int(n)
}

// FromMilliG converts raw accelerometer counts in milli-g to m/s².
func FromMilliG(raw []int16) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	floats.Scale(Gravity/1000, out)
	return out
}

// Analyze computes wave statistics from vertical acceleration in m/s² with
// gravity removed. samples is not modified.
func Analyze(samples []float64, cfg Config) (Stats, error) {
	if err := cfg.validate(len(samples)); err != nil {
		return Stats{}, err
	}
	x := lowPass(samples, cfg)
	ext := extremes(x, cfg.GradientSpan, cfg.GradientCount)

	need := 2 * cfg.Waves
	heights, halves := halfWaves(x, ext, cfg.SamplingTime, need)
	if len(heights) < need {
		return Stats{}, fmt.Errorf("found %d half-waves, need %d: %w", len(heights), need, ErrNotEnoughWaves)
	}

	periods := make([]float64, cfg.Waves)
	floats.ScaleTo(periods, 2, halves[:cfg.Waves])

	sort.Sort(sort.Reverse(sort.Float64Slice(heights)))
	avg := stat.Mean(heights[:cfg.Waves], nil)

	var sig float64
	var count int
	end := int(2.0/3.0*float64(cfg.Waves) + 1)
	for _, h := range heights[:end] {
		if h < maxHeight && h < significantSpan*avg {
			sig += h
			count++
		}
	}
	if count > 0 {
		sig /= float64(count)
	}

	return Stats{
		SignificantHeight: sig,
		AverageHeight:     avg,
		AveragePeriod:     stat.Mean(periods, nil),
		Heights:           heights,
	}, nil
}

// lowPass runs Order cascaded first-order RC stages over a copy of in.
func lowPass(in []float64, cfg Config) []float64 {
	out := append([]float64(nil), in...)
	if cfg.Order <= 0 || cfg.CutoffFreq <= 0 {
		return out
	}
	rc := 1 / (2 * math.Pi * cfg.CutoffFreq)
	alpha := cfg.SamplingTime / (rc + cfg.SamplingTime)
	for stage := 0; stage < cfg.Order; stage++ {
		var y float64
		for i, v := range out {
			y += alpha * (v - y)
			out[i] = y
		}
	}
	return out
}

func direction(x []float64, i, span int) int {
	lo := i - span
	if lo < 0 {
		lo = 0
	}
	hi := i + span
	if hi > len(x)-1 {
		hi = len(x) - 1
	}
	switch d := x[hi] - x[lo]; {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// extremes returns the indices of crests and troughs. A direction change
// counts once it has held for count consecutive samples; the extreme is placed
// where the change began.
func extremes(x []float64, span, count int) []int {
	var (
		out     []int
		grad    int
		current int
		held    int
		start   int
	)
	for i := range x {
		g := direction(x, i, span)
		if g != grad {
			grad = g
			held = 0
			if g != 0 {
				start = i
			}
		} else {
			held++
		}
		if held == count && grad != 0 && grad != current {
			if current != 0 {
				out = append(out, start)
			}
			current = grad
		}
	}
	return out
}

// halfWaves integrates acceleration twice between consecutive extremes. The
// zero line drifts linearly from the mean of the previous pair of extremes to
// the mean of the next pair.
func halfWaves(x []float64, ext []int, dt float64, limit int) (heights, halves []float64) {
	offset := func(a, b int) float64 { return (x[a] + x[b]) / 2 }
	for i := 1; i < len(ext) && len(heights) < limit; i++ {
		start, end := ext[i-1], ext[i]
		oldOff := offset(start, end)
		newOff := oldOff
		if i < len(ext)-1 {
			newOff = offset(end, ext[i+1])
		}

		var v, d float64
		span := float64(end - start)
		for j := start; j <= end; j++ {
			rel := float64(j-start) / span
			off := (1-rel)*oldOff + rel*newOff
			v += dt * (x[j] - off)
			d += dt * v
		}
		heights = append(heights, math.Abs(d))
		halves = append(halves, dt*span)
	}
	return heights, halves
}

// PeakPeriod returns the period of the strongest spectral component, or 0
// when the window carries no energy.
func PeakPeriod(samples []float64, dt float64) float64 {
	n := len(samples)
	if n < 2 || dt <= 0 {
		return 0
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, samples)

	best, bestMag := 0, 0.0
	for k := 1; k < len(coeffs); k++ {
		if mag := cmplx.Abs(coeffs[k]); mag > bestMag {
			best, bestMag = k, mag
		}
	}
	if best == 0 {
		return 0
	}
	return dt / fft.Freq(best)
}
