package pipeline

import "buoy-svr/internal/codec"

// Reading is a decoded frame together with where and when it arrived.
type Reading struct {
	DeviceID   string `json:"device_id"`
	Source     string `json:"source"`
	Datetime   string `json:"dt"`
	ReceivedAt string `json:"received_at"`
	FrameHex   string `json:"frame_hex"`

	codec.Measurement `json:"measurement"`

	MsgType int `json:"msg_type"` // 1=live, 0=buffer
	Valid   int `json:"valid"`    // 1 when humidity and battery look physical
}

const (
	SourceTCP  = "tcp"
	SourceMQTT = "mqtt"
)
