package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// Simulated sensor on pin 4, polled every 2 s (the AM2302 minimum).
const cfgSim = `{
  "hal": {
    "devices": [
      {"id": "env0", "type": "am2302", "params": {"pin": 4, "name": "core"}}
    ],
    "pollers": [
      {"domain": "env", "kind": "temperature", "name": "core", "verb": "read", "interval_ms": 2000, "jitter_ms": 100}
    ]
  },
  "metrics": {
    "listen": ":9102"
  },
  "heartbeat": {
    "interval": 5
  }
}`

// Raspberry Pi, sensor on GPIO4 with a 4.7k pull-up.
const cfgRPi = `{
  "hal": {
    "devices": [
      {"id": "env0", "type": "am2302", "params": {"pin": 4, "name": "core", "start_low_us": 1000, "timeout_ms": 6}}
    ],
    "pollers": [
      {"domain": "env", "kind": "temperature", "name": "core", "verb": "read", "interval_ms": 3000, "jitter_ms": 250}
    ]
  },
  "metrics": {
    "listen": ":9102"
  },
  "heartbeat": {
    "interval": 5
  }
}`

var embeddedConfigs = map[string][]byte{
	"sim": []byte(cfgSim),
	"rpi": []byte(cfgRPi),
}
