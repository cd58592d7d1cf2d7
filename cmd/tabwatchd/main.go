// Command tabwatchd runs the tab-watching daemon: it loads configuration,
// wires the Session Lifecycle Manager and its dependents, and serves the
// Prometheus endpoints until told to shut down. The websocket fan-out hub
// is created and handed to the manager but is not exposed over HTTP here.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	configpkg "tabwatch/pkg/config"
	"tabwatch/pkg/logger"
	"tabwatch/pkg/metrics"

	"tabwatch/internal/proxy"
	"tabwatch/internal/session"
	"tabwatch/internal/socket"
)

func main() {
	var configPath = flag.String("config", "config.yaml", "path to the daemon's YAML configuration")
	flag.Parse()

	reloader := configpkg.NewReloader(*configPath)
	if err := reloader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "tabwatchd: config load failed: %v\n", err)
		os.Exit(1)
	}
	cfg := reloader.GetConfig()

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabwatchd: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	reloader.SetLogger(zapReloaderLogger{log.With()})
	if err := reloader.Start(); err != nil {
		log.Warn("config hot-reload disabled", zap.Error(err))
	}
	defer reloader.Stop()

	// Use the global collector so the /metrics endpoint below observes the
	// same counters internal/session records its hooks against — a second,
	// separately-constructed collector would never see those updates.
	collector := metrics.GetGlobalCollector()
	defer collector.Close()

	hub := socket.NewHub()

	manager := session.NewManager(log.Raw(), hub, cfg.FingerprintSeed, proxy.None{}, cfg.MaxConcurrentSessions, cfg.CleanupDelay, cfg.EvalRatePerSecond)
	defer manager.DestroyAll()

	var prevMu sync.Mutex
	prevCfg := cfg
	reloader.OnChange(func(newCfg *configpkg.Config) {
		prevMu.Lock()
		diff := configpkg.Diff(prevCfg, newCfg)
		prevCfg = newCfg
		prevMu.Unlock()
		for field, v := range diff {
			log.Info("config changed", zap.String("field", field), zap.Any("old", v.Old), zap.Any("new", v.New))
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.MetricsHandler())
	mux.HandleFunc("/metrics.json", collector.JSONHandler())

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Info("metrics listener starting", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener stopped", zap.Error(err))
		}
	}()

	log.Info("tabwatchd started", zap.Int("max_concurrent_sessions", cfg.MaxConcurrentSessions))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("tabwatchd shutting down")
	_ = srv.Close()
}

// zapReloaderLogger adapts *logger.Logger to pkg/config's narrow Logger
// interface.
type zapReloaderLogger struct {
	l *logger.Logger
}

func (z zapReloaderLogger) Info(msg string, fields ...interface{}) {
	z.l.Infof(msg+" %v", fields)
}

func (z zapReloaderLogger) Error(msg string, fields ...interface{}) {
	z.l.Errorf(msg+" %v", fields)
}
