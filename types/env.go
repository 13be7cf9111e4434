package types

// ------------------------
// Temperature & humidity
// ------------------------

type TemperatureInfo struct {
	Sensor string `json:"sensor"` // "am2302"
	Pin    int    `json:"pin"`
	Range  string `json:"range,omitempty"` // e.g. "-40°C..80°C"
}

type HumidityInfo struct {
	Sensor string `json:"sensor"`
	Pin    int    `json:"pin"`
	Range  string `json:"range,omitempty"`
}

type TemperatureValue struct {
	// Tenths of °C (e.g. 231 => 23.1°C).
	DeciC int16 `json:"deci_c"`
}

type HumidityValue struct {
	// Hundredths of %RH (0..10000 for 0..100.00%).
	RHx100 uint16 `json:"rh_x100"`
}

// AM2302Params configures an "am2302" device.
type AM2302Params struct {
	Pin        int    `json:"pin"`
	Domain     string `json:"domain,omitempty"` // default "env"
	Name       string `json:"name,omitempty"`   // default device id
	StartLowUs uint32 `json:"start_low_us,omitempty"`
	TimeoutMs  uint32 `json:"timeout_ms,omitempty"`
}
