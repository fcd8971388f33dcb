package dashboard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config defines the runtime configuration for the operator console.
type Config struct {
	Addr           string
	BackendURL     string
	DetectionPath  string
	VideoPath      string
	PollInterval   time.Duration
	AlertTTL       time.Duration
	RequestTimeout time.Duration
	StreamInterval time.Duration // keepalive period for SSE
	AutoStart      bool
	EmergencyDial  string
	AlarmSoundURL  string
	EnableMetrics  bool
}

// DefaultConfig returns the console defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8090",
		BackendURL:     "http://localhost:5000",
		DetectionPath:  "/detection_info",
		VideoPath:      "/video_feed",
		PollInterval:   time.Second,
		AlertTTL:       5 * time.Second,
		RequestTimeout: 900 * time.Millisecond,
		StreamInterval: 30 * time.Second,
		AutoStart:      true,
		EmergencyDial:  "112",
		AlarmSoundURL:  "https://actions.google.com/sounds/v1/alarms/alarm_clock.ogg",
		EnableMetrics:  true,
	}
}

// EnvPrefix prefixes every environment key read by ApplyEnv.
const EnvPrefix = "SAFEMON_"

// ApplyEnv overrides cfg from dotenv files and the process environment. The
// process environment wins over file values; missing files are skipped.
func ApplyEnv(cfg *Config, files ...string) error {
	values := map[string]string{}
	for _, file := range files {
		fileValues, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read %s: %w", file, err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := values[EnvPrefix+key]
		return v, ok
	}

	texts := map[string]*string{
		"ADDR":            &cfg.Addr,
		"BACKEND_URL":     &cfg.BackendURL,
		"DETECTION_PATH":  &cfg.DetectionPath,
		"VIDEO_PATH":      &cfg.VideoPath,
		"EMERGENCY_DIAL":  &cfg.EmergencyDial,
		"ALARM_SOUND_URL": &cfg.AlarmSoundURL,
	}
	for key, dst := range texts {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"POLL_INTERVAL":   &cfg.PollInterval,
		"ALERT_TTL":       &cfg.AlertTTL,
		"REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"STREAM_INTERVAL": &cfg.StreamInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"AUTO_START":     &cfg.AutoStart,
		"ENABLE_METRICS": &cfg.EnableMetrics,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate rejects settings the controller cannot run with.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("backend URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.AlertTTL <= 0 {
		return fmt.Errorf("alert TTL must be positive, got %s", c.AlertTTL)
	}
	return nil
}
