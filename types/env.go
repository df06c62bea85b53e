package types

// ------------------------
// Pressure & temperature (barometer)
// ------------------------

type PressureInfo struct {
	Sensor string `json:"sensor"` // "ms5611", ...
	Addr   uint16 `json:"addr"`   // I2C address
	Bus    string `json:"bus"`    // "i2c0", ...
}

type TemperatureInfo struct {
	Sensor string `json:"sensor"`
	Addr   uint16 `json:"addr"`
	Bus    string `json:"bus"`
}

type PressureValue struct {
	// Pascals (e.g. 101325 at sea level).
	Pa int32 `json:"pa"`
}

type TemperatureValue struct {
	// Hundredths of °C (e.g. 2315 => 23.15°C).
	CentiC int32 `json:"centi_c"`
}
