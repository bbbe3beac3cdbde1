package pipeline

import (
	"encoding/hex"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"buoy-svr/internal/codec"
)

const liveWindow = 120 * time.Second

// CalcValid flags readings whose humidity and battery are physically plausible.
// It never alters the decoded values.
func CalcValid(m codec.Measurement) int {
	if m.Humidity < 0 || m.Humidity > 100 {
		return 0
	}
	if m.Battery <= 0 {
		return 0
	}
	return 1
}

func DecideMsgType(isBatch bool, ts, now time.Time) int {
	if isBatch {
		return 0
	}
	if !ts.IsZero() && now.Sub(ts) > liveWindow {
		return 0
	}
	return 1
}

// BuildReading wraps a decoded measurement. dt is the device-side sample time
// when the transport carries one, otherwise the receive time.
func BuildReading(
	deviceID, source string,
	dt, received time.Time,
	frame []byte,
	m codec.Measurement,
	isBatch bool,
) *Reading {
	if dt.IsZero() {
		dt = received
	}
	n := len(frame)
	if n > codec.FrameSize {
		n = codec.FrameSize
	}
	return &Reading{
		DeviceID:    deviceID,
		Source:      source,
		Datetime:    dt.UTC().Format(time.RFC3339Nano),
		ReceivedAt:  received.UTC().Format(time.RFC3339Nano),
		FrameHex:    hex.EncodeToString(frame[:n]),
		Measurement: m,
		MsgType:     DecideMsgType(isBatch, dt, received),
		Valid:       CalcValid(m),
	}
}

// Fields flattens the measurement into a map keyed by its wire names.
func Fields(r *Reading) map[string]interface{} {
	m := r.Measurement
	return map[string]interface{}{
		"Info":                    m.Info,
		"Temperature":             m.Temperature,
		"Humidity":                m.Humidity,
		"AirPressure":             m.AirPressure,
		"Acceleration":            m.Acceleration,
		"Battery":                 m.Battery,
		"CPU_temperature":         m.CPUTemperature,
		"Significant_wave_height": m.SignificantWaveHeight,
		"Average_wave_height":     m.AverageWaveHeight,
		"Average_period":          m.AveragePeriod,
	}
}

// ToStruct converts a reading into a protobuf Struct for the forwarder.
func ToStruct(r *Reading) (*structpb.Struct, error) {
	meas := make(map[string]interface{}, 10)
	for k, v := range Fields(r) {
		switch n := v.(type) {
		case int:
			meas[k] = float64(n)
		default:
			meas[k] = n
		}
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"device_id":   r.DeviceID,
		"source":      r.Source,
		"dt":          r.Datetime,
		"received_at": r.ReceivedAt,
		"frame_hex":   r.FrameHex,
		"msg_type":    float64(r.MsgType),
		"valid":       float64(r.Valid),
		"measurement": meas,
	})
	if err != nil {
		return nil, fmt.Errorf("reading to struct: %w", err)
	}
	return s, nil
}
