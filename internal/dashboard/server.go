package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dj-oyu/safety-monitor/internal/alert"
	"github.com/dj-oyu/safety-monitor/internal/logger"
	"github.com/dj-oyu/safety-monitor/internal/metrics"
	"github.com/dj-oyu/safety-monitor/internal/mjpeg"
	"github.com/dj-oyu/safety-monitor/internal/session"
	"github.com/dj-oyu/safety-monitor/internal/telemetry"
)

// EmergencyMessage is shown when the operator presses the emergency control.
const EmergencyMessage = "Emergency services are being contacted!"

// Server serves the operator console and drives one monitoring session.
type Server struct {
	cfg              Config
	controller       *session.Controller
	broadcaster      *StateBroadcaster
	metrics          *metrics.Metrics
	video            *videoFeed
	streamClient     *http.Client
	upstreamVideoURL string
	stoppedFrame     []byte
	unsubscribe      func()
	log              logger.Module
}

// NewServer wires the controller to the detection backend named in cfg.
func NewServer(cfg Config, m *metrics.Metrics) (*Server, error) {
	def := DefaultConfig()
	if cfg.DetectionPath == "" {
		cfg.DetectionPath = def.DetectionPath
	}
	if cfg.VideoPath == "" {
		cfg.VideoPath = def.VideoPath
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = def.StreamInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	stopped, err := mjpeg.Placeholder("Monitoring stopped")
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}

	fetcher := telemetry.NewClient(cfg.BackendURL, cfg.DetectionPath, cfg.RequestTimeout)
	video := &videoFeed{}
	alerts := alert.NewSurface(cfg.AlertTTL)
	controller := session.New(session.Config{
		VideoURL:     "/stream",
		PollInterval: cfg.PollInterval,
	}, fetcher, video, alerts, m)

	broadcaster := NewStateBroadcaster()
	broadcaster.Publish(controller.View())

	s := &Server{
		cfg:              cfg,
		controller:       controller,
		broadcaster:      broadcaster,
		metrics:          m,
		video:            video,
		streamClient:     &http.Client{},
		upstreamVideoURL: strings.TrimRight(cfg.BackendURL, "/") + "/" + strings.TrimLeft(cfg.VideoPath, "/"),
		stoppedFrame:     stopped,
		log:              logger.For("Dashboard"),
	}
	s.unsubscribe = controller.Subscribe(broadcaster.Publish)
	s.log.Info("Polling %s every %s", fetcher.URL(), cfg.PollInterval)
	return s, nil
}

// Controller exposes the session controller, e.g. for Bootstrap.
func (s *Server) Controller() *session.Controller {
	return s.controller
}

// Close stops the session and disconnects push clients.
func (s *Server) Close() {
	s.controller.Close()
	s.unsubscribe()
	s.video.close()
	s.broadcaster.Close()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/state/stream", s.handleStateStream)
	mux.HandleFunc("/api/state/ws", s.handleStateWebSocket)
	mux.HandleFunc("/api/session/toggle", s.handleToggle)
	mux.HandleFunc("/api/session/video-error", s.handleVideoError)
	mux.HandleFunc("/api/alert/dismiss", s.handleDismiss)
	mux.HandleFunc("/api/emergency", s.handleEmergency)
	if s.cfg.EnableMetrics {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"active":  s.controller.Active(),
		"clients": s.broadcaster.ClientCount(),
		"backend": s.cfg.BackendURL,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.View())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.controller.OnToggleRequested()
	writeJSON(w, s.controller.View())
}

type epochRequest struct {
	Epoch uint64 `json:"epoch"`
}

func (s *Server) handleVideoError(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req epochRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid video error report"}, http.StatusBadRequest)
		return
	}
	s.controller.OnVideoError(req.Epoch)
	writeJSON(w, s.controller.View())
}

type dismissRequest struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dismissRequest
	if err := decodeBody(r, &req); err != nil || req.ID == 0 {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid alert id"}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"dismissed": s.controller.DismissAlert(req.ID)})
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.log.Warn("Emergency requested from %s", r.RemoteAddr)
	a := s.controller.Notify(EmergencyMessage)
	writeJSON(w, map[string]any{
		"alert":       a,
		"alarm_sound": s.cfg.AlarmSoundURL,
		"confirm":     "Do you want to call emergency services?",
		"dial":        "tel:" + s.cfg.EmergencyDial,
	})
}

// decodeBody reads a small JSON body. An empty body leaves dst untouched;
// form or query values are accepted as a fallback for plain HTML forms.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		return json.Unmarshal(body, dst)
	}

	switch v := dst.(type) {
	case *epochRequest:
		if raw := r.URL.Query().Get("epoch"); raw != "" {
			epoch, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return err
			}
			v.Epoch = epoch
		}
	case *dismissRequest:
		if raw := r.URL.Query().Get("id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return err
			}
			v.ID = id
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
