package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"am2302-go/bus"
	"am2302-go/services/config"
	"am2302-go/services/hal"
	"am2302-go/services/heartbeat"
)

var (
	device     = flag.String("device", "sim", "embedded config to load")
	sim        = flag.Bool("sim", false, "force the simulated sensor; implied by -device sim")
	listenAddr = flag.String("listen-address", "", "metrics address; empty uses the config's metrics.listen")
	logLevel   = flag.String("log-level", "info", "logrus level")
)

func init() {
	prometheus.MustRegister(prometheus.NewBuildInfoCollector())

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	flag.Parse()
	lvl, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("bad -log-level: %s", err)
	}
	log.SetLevel(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("[main] bootstrapping bus …")
	b := bus.NewBus(16)
	halConn := b.NewConnection("hal")
	uiConn := b.NewConnection("ui")

	var reg hal.Registry
	if useSim(*device, *sim) {
		reg = hal.NewSimRegistry()
	} else {
		p, err := hal.NewPeriphRegistry()
		if err != nil {
			log.Fatalf("gpio: %+v", err)
		}
		reg = p
	}

	mon := uiConn.Subscribe(bus.T("hal", "#"))
	go func() {
		for m := range mon.Channel() {
			log.WithField("payload", m.Payload).Info("[monitor] <- ", m.Topic)
		}
	}()

	log.Info("[main] starting hal.Run …")
	done := make(chan struct{})
	go func() {
		hal.Run(ctx, halConn, reg)
		close(done)
	}()

	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, *device)
	config.NewConfigService().Start(cfgCtx, b.NewConnection("config"))
	_ = (&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))

	addr := *listenAddr
	if addr == "" {
		addr = metricsAddr(ctx, uiConn)
	}
	go func() {
		// Expose the registered metrics via HTTP.
		http.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
		log.WithField("addr", addr).Info("[main] serving metrics")
		log.Panic(http.ListenAndServe(addr, nil))
	}()

	<-done
	uiConn.Disconnect()
	log.Info("[main] stopped")
}

// metricsAddr reads metrics.listen from the retained config, falling back to
// :9102.
func metricsAddr(ctx context.Context, c *bus.Connection) string {
	const fallback = ":9102"
	sub := c.Subscribe(bus.T("config", "metrics"))
	defer c.Unsubscribe(sub)

	select {
	case m := <-sub.Channel():
		if sec, ok := m.Payload.(map[string]any); ok {
			if s, ok := sec["listen"].(string); ok && s != "" {
				return s
			}
		}
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return fallback
}

// useSim reports whether the simulated sensor backs the HAL. The "sim"
// config has no hardware behind it; any other config uses host GPIO unless
// forced.
func useSim(device string, force bool) bool {
	return force || device == "sim"
}
