package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buoy-svr/internal/codec"
)

var exampleFrame = []byte{1, 22, 50, 60, 25, 10, 0, 3, 2, 4, 30, 10, 100, 0, 50, 0, 10, 0}

func decodeExample(t *testing.T) codec.Measurement {
	t.Helper()
	m, err := codec.Decode(exampleFrame)
	require.NoError(t, err)
	return m
}

func TestCalcValid(t *testing.T) {
	assert.Equal(t, 1, CalcValid(codec.Measurement{Humidity: 55, Battery: 3.7}))
	assert.Equal(t, 0, CalcValid(codec.Measurement{Humidity: 101.5, Battery: 3.7}))
	assert.Equal(t, 0, CalcValid(codec.Measurement{Humidity: 40}))
}

func TestDecideMsgType(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DecideMsgType(true, now, now))
	assert.Equal(t, 1, DecideMsgType(false, now.Add(-time.Minute), now))
	assert.Equal(t, 0, DecideMsgType(false, now.Add(-3*time.Minute), now))
	assert.Equal(t, 1, DecideMsgType(false, time.Time{}, now))
}

func TestBuildReading(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := decodeExample(t)

	long := append(append([]byte{}, exampleFrame...), 0xAA)
	r := BuildReading("buoy-7", SourceTCP, time.Time{}, now, long, m, false)

	assert.Equal(t, "buoy-7", r.DeviceID)
	assert.Equal(t, SourceTCP, r.Source)
	assert.Equal(t, "2026-05-01T12:00:00Z", r.Datetime)
	assert.Equal(t, "0116323c190a000302041e0a640032000a00", r.FrameHex)
	assert.Equal(t, 1, r.MsgType)
	assert.Equal(t, 1, r.Valid)
	assert.Equal(t, m, r.Measurement)
}

func TestBuildReadingKeepsSubSecondTime(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a := BuildReading("buoy-7", SourceTCP, time.Time{}, now, exampleFrame, decodeExample(t), false)
	b := BuildReading("buoy-7", SourceTCP, time.Time{}, now.Add(500*time.Millisecond), exampleFrame, decodeExample(t), false)

	assert.Equal(t, "2026-05-01T12:00:00.5Z", b.Datetime)
	assert.NotEqual(t, a.Datetime, b.Datetime)
}

func TestFieldsAndStruct(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := BuildReading("buoy-7", SourceMQTT, now, now, exampleFrame, decodeExample(t), false)

	f := Fields(r)
	assert.Len(t, f, 10)
	assert.Equal(t, 100, f["Significant_wave_height"])
	assert.InDelta(t, 30.10, f["CPU_temperature"], 1e-9)

	s, err := ToStruct(r)
	require.NoError(t, err)
	assert.Equal(t, "buoy-7", s.Fields["device_id"].GetStringValue())
	meas := s.Fields["measurement"].GetStructValue()
	require.NotNil(t, meas)
	assert.InDelta(t, 60.25, meas.Fields["Humidity"].GetNumberValue(), 1e-9)
	assert.Equal(t, float64(10), meas.Fields["Average_period"].GetNumberValue())
}
