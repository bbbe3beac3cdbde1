package codec

// Measurement is one decoded buoy sample. JSON keys follow the names the
// network-side payload formatter has always emitted.
type Measurement struct {
	Info                  int     `json:"Info"`
	Temperature           float64 `json:"Temperature"`
	Humidity              float64 `json:"Humidity"`
	AirPressure           float64 `json:"AirPressure"`
	Acceleration          int     `json:"Acceleration"`
	Battery               float64 `json:"Battery"`
	CPUTemperature        float64 `json:"CPU_temperature"`
	SignificantWaveHeight int     `json:"Significant_wave_height"`
	AverageWaveHeight     int     `json:"Average_wave_height"`
	AveragePeriod         int     `json:"Average_period"`
}
