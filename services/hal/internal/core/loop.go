package core

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"am2302-go/bus"
	"am2302-go/errcode"
	"am2302-go/types"
	"am2302-go/x/timex"
)

const (
	eventQueueLen = 16
	pollQueueLen  = 8
)

type capKey struct {
	domain string
	kind   types.Kind
	name   string
}

type HAL struct {
	conn *bus.Connection
	res  Resources

	// Device registry
	dev map[string]Device // devID -> device

	// Capability index: (domain,kind,name) -> devID
	capIndex map[capKey]string

	// Single-threaded publication of device events
	evCh chan Event

	pollCh chan PollReq
	poller *Poller
}

func NewHAL(conn *bus.Connection, reg ResourceRegistry) *HAL {
	h := &HAL{
		conn:     conn,
		res:      Resources{Reg: reg},
		dev:      map[string]Device{},
		capIndex: map[capKey]string{},
		evCh:     make(chan Event, eventQueueLen),
		pollCh:   make(chan PollReq, pollQueueLen),
	}
	// HAL provides the emitter to devices.
	h.res.Pub = h
	h.poller = NewPoller(h.pollCh)
	return h
}

func (h *HAL) Run(ctx context.Context) {
	cfgSub := h.conn.Subscribe(TopicConfigHAL())
	ctrlSub := h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(cfgSub)
	defer h.conn.Unsubscribe(ctrlSub)

	go h.poller.Run(ctx)

	h.pubHALState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			h.stop("context_cancelled")
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				h.stop("disconnected")
				return
			}
			cfg, ok := asHALConfig(msg.Payload)
			if !ok {
				log.WithField("payload", msg.Payload).Warn("[hal] ignoring malformed config")
				continue
			}
			// applyConfig is additive/idempotent for existing devices.
			h.applyConfig(ctx, cfg)
			if !ready {
				ready = true
				h.pubHALState("ready", "configured")
			}
		case m, ok := <-ctrlSub.Channel():
			if !ok {
				h.stop("disconnected")
				return
			}
			if !ready {
				// Reject controls until HAL has a configuration.
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m) // strictly non-blocking
		case req := <-h.pollCh:
			h.handlePoll(req)
		case ev := <-h.evCh:
			// All device→HAL telemetry is published from this goroutine.
			h.handleEvent(ev)
		}
	}
}

func asHALConfig(v any) (types.HALConfig, bool) {
	switch c := v.(type) {
	case types.HALConfig:
		return c, true
	case *types.HALConfig:
		if c != nil {
			return *c, true
		}
	}
	return types.HALConfig{}, false
}

func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		lg := log.WithFields(log.Fields{"dev": dc.ID, "type": dc.Type})
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			lg.Error("[hal] no builder for type")
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{
			ID:     dc.ID,
			Type:   dc.Type,
			Params: dc.Params,
			Res:    h.res,
		})
		if err != nil {
			lg.WithError(err).Error("[hal] build failed")
			continue
		}
		if err := dev.Init(ctx); err != nil {
			lg.WithError(err).Error("[hal] init failed")
			_ = dev.Close()
			continue
		}
		h.dev[dev.ID()] = dev

		// Register capabilities, publish retained info + initial status:down
		for _, cs := range dev.Capabilities() {
			a := CapAddr{Domain: cs.Domain, Kind: cs.Kind, Name: cs.Name}
			if a.Domain == "" {
				a.Domain = defaultDomainFor(cs.Kind)
			}
			if a.Name == "" {
				a.Name = dev.ID()
			}
			h.capIndex[capKey{domain: a.Domain, kind: a.Kind, name: a.Name}] = dev.ID()

			h.conn.Publish(h.conn.NewMessage(CapInfo(a), cs.Info, true))
			h.conn.Publish(h.conn.NewMessage(
				CapStatus(a),
				types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
				true,
			))
		}
		lg.Info("[hal] device ready")
	}

	for _, ps := range cfg.Pollers {
		if ps.IntervalMs == 0 {
			h.poller.Stop(ps.Domain, ps.Kind, ps.Name, ps.Verb)
			continue
		}
		h.poller.Upsert(ps.Domain, ps.Kind, ps.Name, ps.Verb,
			time.Duration(ps.IntervalMs)*time.Millisecond,
			time.Duration(ps.JitterMs)*time.Millisecond)
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() < 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	a := CapAddr{Domain: domain, Kind: types.Kind(kind), Name: name}
	dev, ok := h.lookup(a)
	if !ok {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}

	res, err := dev.Control(a, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.replyErr(msg, code)
}

func (h *HAL) handlePoll(req PollReq) {
	a := CapAddr{Domain: req.Domain, Kind: req.Kind, Name: req.Name}
	dev, ok := h.lookup(a)
	if !ok {
		return
	}
	if res, err := dev.Control(a, req.Verb, nil); err != nil || !res.OK {
		log.WithFields(log.Fields{"cap": capBase(a).String(), "code": res.Error}).Debug("[hal] poll skipped")
	}
}

func (h *HAL) lookup(a CapAddr) (Device, bool) {
	id, ok := h.capIndex[capKey{domain: a.Domain, kind: a.Kind, name: a.Name}]
	if !ok {
		return nil, false
	}
	dev := h.dev[id]
	return dev, dev != nil
}

func (h *HAL) handleEvent(ev Event) {
	ts := ev.TS
	if ts == 0 {
		ts = time.Now().UnixNano()
	}
	tsMs := ts / int64(time.Millisecond)

	// 1) Error → retained status:degraded; no value published.
	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			CapStatus(ev.Addr),
			types.CapabilityStatus{Link: types.LinkDegraded, TSms: tsMs, Error: ev.Err},
			true,
		))
		return
	}

	// 2) Success: retained value + status:up
	h.conn.Publish(h.conn.NewMessage(CapValue(ev.Addr), ev.Payload, true))
	h.conn.Publish(h.conn.NewMessage(
		CapStatus(ev.Addr),
		types.CapabilityStatus{Link: types.LinkUp, TSms: tsMs},
		true,
	))
}

func (h *HAL) stop(status string) {
	h.closeAll()
	h.pubHALState("stopped", status)
}

func (h *HAL) closeAll() {
	for id, d := range h.dev {
		if err := d.Close(); err != nil {
			log.WithField("dev", id).WithError(err).Warn("[hal] close failed")
		}
	}
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		TopicHALState(),
		types.HALState{Level: level, Status: status, TSms: timex.NowMs()},
		true,
	))
}

func defaultDomainFor(kind types.Kind) string {
	switch kind {
	case types.KindTemperature, types.KindHumidity:
		return "env"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}
