package config

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"am2302-go/bus"
	"am2302-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	halKey       = "hal"
)

type ctxKey string

// CtxDeviceKey carries the device ID used to select the embedded config.
const CtxDeviceKey ctxKey = "device"

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Devices lists the embedded config names.
func Devices() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	return out
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// Decode splits a device config into its top-level sections. The "hal"
// section is decoded into types.HALConfig; other sections stay generic.
func Decode(raw []byte) (map[string]any, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, errors.Wrap(err, "config is not a JSON object")
	}
	out := make(map[string]any, len(sections))
	for k, v := range sections {
		if k == halKey {
			var hc types.HALConfig
			if err := json.Unmarshal(v, &hc); err != nil {
				return nil, errors.Wrap(err, "decode hal section")
			}
			out[k] = hc
			continue
		}
		var generic any
		if err := json.Unmarshal(v, &generic); err != nil {
			return nil, errors.Wrapf(err, "decode %s section", k)
		}
		out[k] = generic
	}
	return out, nil
}

// publishConfig reads the device config from embedded data and publishes
// each section as a retained message on config/<section>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.Errorf("no embedded config for device: %s", device)
	}

	sections, err := Decode(raw)
	if err != nil {
		return errors.Wrapf(err, "device %s", device)
	}
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			log.WithError(err).Error("[config] publish failed")
			return
		}
		log.WithField("device", ctx.Value(CtxDeviceKey)).Info("[config] published")
	}()
}
