package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a frame is too short to carry every field.
var ErrMalformedFrame = errors.New("malformed frame")

// Decode maps a raw buoy frame to a Measurement. Only the first FrameSize bytes
// are read; the input is never modified or retained.
func Decode(frame []byte) (Measurement, error) {
	if len(frame) < FrameSize {
		return Measurement{}, fmt.Errorf("%w: need %d bytes, got %d", ErrMalformedFrame, FrameSize, len(frame))
	}

	return Measurement{
		Info:                  int(frame[OffInfo]),
		Temperature:           fixed(frame, OffTempWhole, OffTempFrac),
		Humidity:              fixed(frame, OffHumWhole, OffHumFrac),
		AirPressure:           float64(le16(frame, OffAirPressure)) / airPressureDiv,
		Acceleration:          int(frame[OffAcceleration]),
		Battery:               float64(le16(frame, OffBattery)) / batteryDiv,
		CPUTemperature:        fixed(frame, OffCPUTempWhole, OffCPUTempFrac),
		SignificantWaveHeight: int(le16(frame, OffSigWave)),
		AverageWaveHeight:     int(le16(frame, OffAvgWave)),
		AveragePeriod:         int(le16(frame, OffAvgPeriod)),
	}, nil
}

func le16(frame []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(frame[off : off+2])
}

// fixed combines a whole byte with a hundredths byte. The fractional byte is
// taken as-is, so 150 contributes 1.50.
func fixed(frame []byte, whole, frac int) float64 {
	return float64(frame[whole]) + float64(frame[frac])/fracDiv
}
