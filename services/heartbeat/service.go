package heartbeat

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"am2302-go/bus"
	"am2302-go/types"
)

const defaultInterval = 5 * time.Second

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("svc", "heartbeat")
)

// Service publishes a retained liveness beat on svc/heartbeat. The interval
// (seconds) can be changed at runtime through config/heartbeat.
type Service struct {
	start time.Time
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			log.Info("[heartbeat] stopping")
			return
		case t := <-tick.C:
			seq++
			conn.Publish(conn.NewMessage(topicHeartbeat, types.Heartbeat{
				Seq:      seq,
				UptimeMs: t.Sub(s.start).Milliseconds(),
				TSms:     t.UnixMilli(),
			}, true))
		case msg := <-cfgSub.Channel():
			if iv, ok := interval(msg.Payload); ok {
				tick.Reset(iv)
				log.WithField("interval", iv).Info("[heartbeat] interval set")
			}
		}
	}
}

// interval reads {"interval": <seconds>} from a decoded config section.
func interval(payload any) (time.Duration, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	secs, ok := m["interval"].(float64)
	if !ok || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.start = time.Now()
	go s.serviceLoop(ctx, conn)
	return nil
}
