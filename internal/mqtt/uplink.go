package mqtt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Uplink is a device frame extracted from a LoRaWAN network-server message.
type Uplink struct {
	DeviceID   string
	FPort      int
	Frame      []byte
	ReceivedAt time.Time
}

type uplinkMessage struct {
	// v3
	EndDeviceIDs struct {
		DeviceID string `json:"device_id"`
	} `json:"end_device_ids"`
	ReceivedAt    time.Time `json:"received_at"`
	UplinkMessage *struct {
		FPort      int    `json:"f_port"`
		FRMPayload string `json:"frm_payload"`
	} `json:"uplink_message"`

	// v2
	DevID      string `json:"dev_id"`
	Port       int    `json:"port"`
	PayloadRaw string `json:"payload_raw"`
	Metadata   struct {
		Time time.Time `json:"time"`
	} `json:"metadata"`
}

var ErrNoPayload = errors.New("uplink carries no payload")

// ParseUplink accepts both the v3 (end_device_ids/uplink_message) and the
// legacy v2 (dev_id/payload_raw) JSON layouts.
func ParseUplink(payload []byte) (Uplink, error) {
	var msg uplinkMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Uplink{}, fmt.Errorf("parse uplink: %w", err)
	}

	var up Uplink
	var b64 string
	switch {
	case msg.UplinkMessage != nil:
		up.DeviceID = msg.EndDeviceIDs.DeviceID
		up.FPort = msg.UplinkMessage.FPort
		up.ReceivedAt = msg.ReceivedAt
		b64 = msg.UplinkMessage.FRMPayload
	case msg.DevID != "":
		up.DeviceID = msg.DevID
		up.FPort = msg.Port
		up.ReceivedAt = msg.Metadata.Time
		b64 = msg.PayloadRaw
	default:
		return Uplink{}, errors.New("parse uplink: unknown message layout")
	}

	if up.DeviceID == "" {
		return Uplink{}, errors.New("parse uplink: device id is required")
	}
	if b64 == "" {
		return Uplink{}, fmt.Errorf("device %s: %w", up.DeviceID, ErrNoPayload)
	}
	frame, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Uplink{}, fmt.Errorf("device %s: payload base64: %w", up.DeviceID, err)
	}
	up.Frame = frame
	return up, nil
}
