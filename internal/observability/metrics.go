package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"buoy-svr/internal/codec"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buoy_tcp_connections_total",
		Help: "Total TCP connections accepted",
	})
	HandshakeOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buoy_handshake_ok_total",
		Help: "Total device id handshakes accepted",
	})
	UplinksRecv = promauto.NewCounter(prometheus.CounterOpts{
		Name: "buoy_mqtt_uplinks_received_total",
		Help: "Total MQTT uplink messages received",
	})
	FramesRecv = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buoy_frames_received_total",
		Help: "Total raw frames handed to the decoder",
	}, []string{"source"})
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buoy_frames_decoded_total",
		Help: "Total frames decoded successfully",
	}, []string{"source"})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buoy_decode_errors_total",
		Help: "Frames rejected as malformed",
	}, []string{"source"})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buoy_sink_errors_total",
		Help: "Errors returned by reading sinks",
	}, []string{"sink"})
	DecodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "buoy_decode_latency_seconds",
		Help:    "Decode and fan-out latency per frame",
		Buckets: prometheus.DefBuckets,
	})
	LastValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "buoy_measurement",
		Help: "Last decoded value per device and field",
	}, []string{"device", "field"})
)

func ObserveDecodeLatency(start time.Time) {
	DecodeLatency.Observe(time.Since(start).Seconds())
}

// SetLastValues exports every field of m as a gauge for the device.
func SetLastValues(device string, m codec.Measurement) {
	LastValue.WithLabelValues(device, "Info").Set(float64(m.Info))
	LastValue.WithLabelValues(device, "Temperature").Set(m.Temperature)
	LastValue.WithLabelValues(device, "Humidity").Set(m.Humidity)
	LastValue.WithLabelValues(device, "AirPressure").Set(m.AirPressure)
	LastValue.WithLabelValues(device, "Acceleration").Set(float64(m.Acceleration))
	LastValue.WithLabelValues(device, "Battery").Set(m.Battery)
	LastValue.WithLabelValues(device, "CPU_temperature").Set(m.CPUTemperature)
	LastValue.WithLabelValues(device, "Significant_wave_height").Set(float64(m.SignificantWaveHeight))
	LastValue.WithLabelValues(device, "Average_wave_height").Set(float64(m.AverageWaveHeight))
	LastValue.WithLabelValues(device, "Average_period").Set(float64(m.AveragePeriod))
}
