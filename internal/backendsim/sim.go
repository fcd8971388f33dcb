// Package backendsim serves a synthetic detection backend: the
// /detection_info snapshot endpoint and an MJPEG /video_feed.
package backendsim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/safety-monitor/internal/logger"
	"github.com/dj-oyu/safety-monitor/internal/mjpeg"
	"github.com/dj-oyu/safety-monitor/internal/telemetry"
)

var log = logger.For("BackendSim")

// Reading is a raw detection result before labels are derived.
type Reading struct {
	Males         int
	Females       int
	CoverageRatio float64
}

// Snapshot derives the backend labels for r.
func (r Reading) Snapshot() telemetry.Snapshot {
	persons := r.Males + r.Females

	status := "No person detected"
	if persons >= 1 {
		switch {
		case r.Females == 1 && r.Males >= 3:
			status = "Warning: Woman is surrounded by men"
		case r.Females == 1:
			status = "Woman is alone"
		case persons >= 2:
			status = "Multiple persons detected"
		}
	}

	coverage := fmt.Sprintf("Coverage: %.2f", r.CoverageRatio)
	switch {
	case r.CoverageRatio >= 0.99:
		coverage = "Warning: 100% display is covered!"
	case r.CoverageRatio >= 0.4:
		coverage = "Warning: Screen covered over 40%!"
	}

	return telemetry.Snapshot{
		PersonCount:    persons,
		MaleCount:      r.Males,
		FemaleCount:    r.Females,
		Status:         status,
		CoverageStatus: coverage,
		CoverageRatio:  r.CoverageRatio,
	}
}

// DefaultScenario cycles through calm and alerting readings.
func DefaultScenario() []Reading {
	return []Reading{
		{Males: 0, Females: 0, CoverageRatio: 0.02},
		{Males: 0, Females: 1, CoverageRatio: 0.05},
		{Males: 2, Females: 1, CoverageRatio: 0.10},
		{Males: 3, Females: 1, CoverageRatio: 0.12},
		{Males: 1, Females: 1, CoverageRatio: 0.45},
		{Males: 0, Females: 0, CoverageRatio: 1.0},
	}
}

// Config defines the simulator behaviour.
type Config struct {
	Scenario      []Reading
	Step          time.Duration // how long each reading is reported
	FrameInterval time.Duration
}

// DefaultConfig returns a config that walks the default scenario.
func DefaultConfig() Config {
	return Config{
		Scenario:      DefaultScenario(),
		Step:          3 * time.Second,
		FrameInterval: 200 * time.Millisecond,
	}
}

// Simulator produces snapshots from a scenario or a pinned reading.
type Simulator struct {
	cfg       Config
	startTime time.Time
	now       func() time.Time

	mu      sync.Mutex
	pinned  *Reading
	failing bool
	started bool
}

// New creates a simulator. Until Begin is called it reports the backend's
// pre-detection defaults.
func New(cfg Config) *Simulator {
	if cfg.Step <= 0 {
		cfg.Step = DefaultConfig().Step
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	return &Simulator{cfg: cfg, now: time.Now}
}

// Begin starts the scenario clock.
func (s *Simulator) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.startTime = s.now()
}

// Pin reports r until Unpin is called.
func (s *Simulator) Pin(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = &r
	s.started = true
}

func (s *Simulator) Unpin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = nil
}

// SetFailing makes both endpoints answer 503.
func (s *Simulator) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Current returns the snapshot that would be served now.
func (s *Simulator) Current() telemetry.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Simulator) currentLocked() telemetry.Snapshot {
	if s.pinned != nil {
		return s.pinned.Snapshot()
	}
	if !s.started || len(s.cfg.Scenario) == 0 {
		return telemetry.DefaultSnapshot()
	}
	elapsed := s.now().Sub(s.startTime)
	idx := int(elapsed/s.cfg.Step) % len(s.cfg.Scenario)
	return s.cfg.Scenario[idx].Snapshot()
}

func (s *Simulator) isFailing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing
}

// Handler exposes the backend endpoints.
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/detection_info", s.handleDetectionInfo)
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	return mux
}

func (s *Simulator) handleDetectionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if s.isFailing() {
		http.Error(w, "detector unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Current()); err != nil {
		log.Debug("Write detection_info: %v", err)
	}
}

func (s *Simulator) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if s.isFailing() {
		http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
		return
	}

	log.Debug("Video client connected from %s", r.RemoteAddr)
	var lastLabel string
	var lastFrame []byte
	provider := func() ([]byte, bool) {
		snap := s.Current()
		label := fmt.Sprintf("Persons: %d  %s  %s", snap.PersonCount, snap.Status, snap.CoverageStatus)
		if label == lastLabel && lastFrame != nil {
			return lastFrame, true
		}
		frame, err := mjpeg.Placeholder(label)
		if err != nil {
			return nil, false
		}
		lastLabel, lastFrame = label, frame
		return frame, true
	}

	blank, err := mjpeg.Placeholder("")
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}
	mjpeg.Stream(r.Context(), w, s.cfg.FrameInterval, blank, provider)
	log.Debug("Video client %s disconnected", r.RemoteAddr)
}
