package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/safety-monitor/internal/dashboard"
	"github.com/dj-oyu/safety-monitor/internal/logger"
	"github.com/dj-oyu/safety-monitor/internal/metrics"
)

func main() {
	cfg := dashboard.DefaultConfig()

	envFile := ".env"
	if v := os.Getenv("SAFEMON_ENV_FILE"); v != "" {
		envFile = v
	}
	if err := dashboard.ApplyEnv(&cfg, envFile); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var logLevel string
	var logColor bool

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Detection backend base URL")
	flag.StringVar(&cfg.DetectionPath, "detection-path", cfg.DetectionPath, "Snapshot endpoint path on the backend")
	flag.StringVar(&cfg.VideoPath, "video-path", cfg.VideoPath, "Video feed path on the backend")
	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Snapshot poll interval")
	flag.DurationVar(&cfg.AlertTTL, "alert-ttl", cfg.AlertTTL, "How long an alert stays visible")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout for one snapshot request")
	flag.BoolVar(&cfg.AutoStart, "auto-start", cfg.AutoStart, "Start monitoring as soon as the console is up")
	flag.StringVar(&cfg.EmergencyDial, "emergency-dial", cfg.EmergencyDial, "Number dialled by the emergency control")
	flag.BoolVar(&cfg.EnableMetrics, "metrics", cfg.EnableMetrics, "Expose Prometheus metrics at /metrics")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	server, err := dashboard.NewServer(cfg, metrics.New())
	if err != nil {
		log.Fatalf("Failed to create console: %v", err)
	}

	logger.Info("Main", "Safety monitor console listening on %s", cfg.Addr)
	logger.Info("Main", "Detection backend: %s", cfg.BackendURL)
	logger.Info("Main", "Log level: %s", level)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if cfg.AutoStart {
		server.Controller().Bootstrap()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Console stopped")
}
