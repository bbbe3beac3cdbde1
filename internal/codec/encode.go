package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned by Encode when a value has no wire representation.
var ErrOutOfRange = errors.New("value out of range")

// Encode builds the FrameSize-byte wire form of m, rounding each value to the
// nearest step the frame can carry.
func Encode(m Measurement) ([]byte, error) {
	out := make([]byte, FrameSize)

	if err := putByte(out, OffInfo, "Info", m.Info); err != nil {
		return nil, err
	}
	if err := putFixed(out, OffTempWhole, OffTempFrac, "Temperature", m.Temperature); err != nil {
		return nil, err
	}
	if err := putFixed(out, OffHumWhole, OffHumFrac, "Humidity", m.Humidity); err != nil {
		return nil, err
	}
	if err := putScaled(out, OffAirPressure, "AirPressure", m.AirPressure, airPressureDiv); err != nil {
		return nil, err
	}
	if err := putByte(out, OffAcceleration, "Acceleration", m.Acceleration); err != nil {
		return nil, err
	}
	if err := putScaled(out, OffBattery, "Battery", m.Battery, batteryDiv); err != nil {
		return nil, err
	}
	if err := putFixed(out, OffCPUTempWhole, OffCPUTempFrac, "CPU_temperature", m.CPUTemperature); err != nil {
		return nil, err
	}
	if err := putScaled(out, OffSigWave, "Significant_wave_height", float64(m.SignificantWaveHeight), 1); err != nil {
		return nil, err
	}
	if err := putScaled(out, OffAvgWave, "Average_wave_height", float64(m.AverageWaveHeight), 1); err != nil {
		return nil, err
	}
	if err := putScaled(out, OffAvgPeriod, "Average_period", float64(m.AveragePeriod), 1); err != nil {
		return nil, err
	}
	return out, nil
}

func putByte(out []byte, off int, name string, v int) error {
	if v < 0 || v > math.MaxUint8 {
		return fmt.Errorf("%w: %s=%d", ErrOutOfRange, name, v)
	}
	out[off] = byte(v)
	return nil
}

// putFixed writes v as a whole byte plus a hundredths byte in [0,99].
func putFixed(out []byte, whole, frac int, name string, v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, v)
	}
	hundredths := math.Round(v * fracDiv)
	w := math.Floor(hundredths / fracDiv)
	f := hundredths - w*fracDiv
	if w > math.MaxUint8 {
		return fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, v)
	}
	out[whole] = byte(w)
	out[frac] = byte(f)
	return nil
}

func putScaled(out []byte, off int, name string, v, mul float64) error {
	raw := math.Round(v * mul)
	if math.IsNaN(raw) || raw < 0 || raw > math.MaxUint16 {
		return fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, v)
	}
	binary.LittleEndian.PutUint16(out[off:off+2], uint16(raw))
	return nil
}
