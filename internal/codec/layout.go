package codec

// FrameSize is the minimum number of bytes a buoy frame must carry.
const FrameSize = 18

// Byte offsets inside a frame. Two-byte fields are little-endian and the
// offset names the low byte.
const (
	OffInfo         = 0
	OffTempWhole    = 1
	OffTempFrac     = 2
	OffHumWhole     = 3
	OffHumFrac      = 4
	OffAirPressure  = 5
	OffAcceleration = 7
	OffBattery      = 8
	OffCPUTempWhole = 10
	OffCPUTempFrac  = 11
	OffSigWave      = 12
	OffAvgWave      = 14
	OffAvgPeriod    = 16
)

const (
	airPressureDiv = 10.0
	batteryDiv     = 100.0
	fracDiv        = 100.0
)
