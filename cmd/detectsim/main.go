package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/safety-monitor/internal/backendsim"
	"github.com/dj-oyu/safety-monitor/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	cfg := backendsim.DefaultConfig()
	addr := ":5000"
	if v := os.Getenv("DETECTSIM_ADDR"); v != "" {
		addr = v
	}

	var logLevel string
	flag.StringVar(&addr, "http", addr, "HTTP server address")
	flag.DurationVar(&cfg.Step, "step", cfg.Step, "How long each scenario reading is reported")
	flag.DurationVar(&cfg.FrameInterval, "frame-interval", cfg.FrameInterval, "Interval between video frames")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	sim := backendsim.New(cfg)
	sim.Begin()

	logger.Info("Main", "Detection simulator listening on %s (%d readings, step %s)", addr, len(cfg.Scenario), cfg.Step)
	if err := http.ListenAndServe(addr, sim.Handler()); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
