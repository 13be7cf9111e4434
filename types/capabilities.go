package types

// ------------------------
// Capability kinds
// ------------------------

// Kind is the third token of hal/cap/<domain>/<kind>/<name>.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindHumidity    Kind = "humidity"
)
