// Package session owns the monitoring session state machine: it starts and
// stops the video source and the poll loop, applies poll results to the
// display state and raises alerts.
package session

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dj-oyu/safety-monitor/internal/alert"
	"github.com/dj-oyu/safety-monitor/internal/display"
	"github.com/dj-oyu/safety-monitor/internal/logger"
	"github.com/dj-oyu/safety-monitor/internal/metrics"
	"github.com/dj-oyu/safety-monitor/internal/telemetry"
)

const (
	// DefaultPollInterval is the fixed period between snapshot requests.
	DefaultPollInterval = time.Second

	ConnectionErrorMessage = "Error connecting to server. Please check if the server is running."
	VideoErrorMessage      = "Error connecting to video stream. Please check if the server is running."
)

// Control is how the start/stop affordance is presented.
type Control struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Style string `json:"style"`
}

var (
	StartControl = Control{Label: "Start Monitoring", Icon: "bi-camera-video", Style: "btn-primary"}
	StopControl  = Control{Label: "Stop Monitoring", Icon: "bi-stop-circle", Style: "btn-danger"}
)

// VideoSource is the external live feed. Calls happen with the controller
// locked and must not block.
type VideoSource interface {
	Activate(streamURL string)
	Deactivate()
}

// Fetcher returns the latest detection snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (telemetry.Snapshot, error)
}

// Listener observes every published view. Listeners run in publish order
// with the controller locked; they must not block or call back into the
// controller.
type Listener func(View)

// View is the published state of the console.
type View struct {
	SessionID string        `json:"session_id,omitempty"`
	Active    bool          `json:"active"`
	Epoch     uint64        `json:"epoch"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Control   Control       `json:"control"`
	VideoURL  string        `json:"video_url"`
	Display   display.State `json:"display"`
	Alert     *alert.Alert  `json:"alert"`
}

// Config configures a Controller.
type Config struct {
	// VideoURL is the stream address handed to the video source; a cache
	// busting token and the session epoch are appended on every start.
	VideoURL     string
	PollInterval time.Duration
}

// Controller is one operator console's monitoring session.
type Controller struct {
	cfg     Config
	fetcher Fetcher
	video   VideoSource
	alerts  *alert.Surface
	metrics *metrics.Metrics
	log     logger.Module
	now     func() time.Time

	mu           sync.Mutex
	active       bool
	epoch        uint64
	sessionID    string
	startedAt    time.Time
	lastToken    int64
	cancel       context.CancelFunc // poll handle, non-nil iff active
	loopDone     chan struct{}
	bootstrapped bool
	closed       bool
	control      Control
	videoURL     string
	display      display.State
	listeners    map[int]Listener
	nextListener int
}

// New creates an inactive controller.
func New(cfg Config, fetcher Fetcher, video VideoSource, alerts *alert.Surface, m *metrics.Metrics) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	c := &Controller{
		cfg:       cfg,
		fetcher:   fetcher,
		video:     video,
		alerts:    alerts,
		metrics:   m,
		log:       logger.For("Session"),
		now:       time.Now,
		control:   StartControl,
		display:   display.Default(),
		listeners: make(map[int]Listener),
	}
	alerts.OnExpire(c.onAlertExpired)
	return c
}

// Subscribe registers l and returns a function that removes it.
func (c *Controller) Subscribe(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// View returns the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Polling reports whether a poll loop is scheduled.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Start begins a session. It is a no-op while one is running.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startLocked() {
		c.publishLocked()
	}
}

// Stop ends the running session. It is a no-op when inactive, so a forced
// stop racing an operator stop is harmless.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopLocked(false) {
		c.publishLocked()
	}
}

// Toggle stops a running session or starts a new one.
func (c *Controller) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		c.stopLocked(false)
	} else if !c.startLocked() {
		return
	}
	c.publishLocked()
}

// Bootstrap performs the initial Inactive -> Active transition. Only the
// first call has an effect.
func (c *Controller) Bootstrap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bootstrapped {
		return
	}
	c.bootstrapped = true
	c.log.Info("Bootstrapping monitoring session")
	if c.startLocked() {
		c.publishLocked()
	}
}

// OnToggleRequested handles the operator's start/stop control.
func (c *Controller) OnToggleRequested() {
	c.log.Debug("Toggle requested")
	c.Toggle()
}

// OnVideoError handles a failure of the stream opened for epoch. Failures
// from an earlier session, or after stop, are ignored.
func (c *Controller) OnVideoError(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || epoch != c.epoch {
		c.log.Debug("Ignoring video error for epoch %d (current %d, active %v)", epoch, c.epoch, c.active)
		return
	}
	c.metrics.VideoErrors.Add(1)
	c.log.Warn("Video stream failed for session %s", c.sessionID)
	c.raiseLocked(VideoErrorMessage)
	c.stopLocked(true)
	c.publishLocked()
}

// OnTickComplete applies the result of one poll tick issued under epoch.
func (c *Controller) OnTickComplete(epoch uint64, snap telemetry.Snapshot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || epoch != c.epoch {
		c.metrics.StaleResults.Add(1)
		c.log.Debug("Discarding stale tick result for epoch %d (current %d, active %v)", epoch, c.epoch, c.active)
		return
	}

	if err != nil {
		c.metrics.TickErrors.Add(1)
		c.log.Warn("Error fetching detection info: %v", err)
		c.raiseLocked(ConnectionErrorMessage)
		c.stopLocked(true)
		c.publishLocked()
		return
	}

	c.metrics.Ticks.Add(1)
	c.metrics.ObserveReading(snap.PersonCount, snap.CoverageRatio)
	c.display = display.FromSnapshot(snap)
	// Re-fires on every qualifying tick; only the single-visible-alert rule
	// and the expiry window limit repetition.
	if display.ShouldAlert(snap) {
		c.raiseLocked(snap.Status)
	}
	c.publishLocked()
}

// Notify shows an alert without touching the session.
func (c *Controller) Notify(message string) alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.raiseLocked(message)
	c.publishLocked()
	return a
}

// DismissAlert removes the visible alert if its id matches.
func (c *Controller) DismissAlert(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alerts.Dismiss(id) {
		return false
	}
	c.publishLocked()
	return true
}

// Close stops the session and waits for its poll loop to exit. The
// controller cannot be restarted afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.stopLocked(false) {
		c.publishLocked()
	}
	done := c.loopDone
	c.mu.Unlock()

	c.alerts.Clear()
	if done != nil {
		<-done
	}
}

func (c *Controller) startLocked() bool {
	if c.active || c.closed {
		return false
	}

	c.epoch++
	c.sessionID = uuid.NewString()
	c.startedAt = c.now()
	c.videoURL = c.streamURLLocked()
	c.video.Activate(c.videoURL)
	c.control = StopControl
	c.active = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done
	go c.poll(ctx, c.epoch, done)

	c.metrics.SessionsStarted.Add(1)
	c.metrics.SetActive(true)
	c.log.Info("Session %s started (epoch %d, polling every %s)", c.sessionID, c.epoch, c.cfg.PollInterval)
	return true
}

func (c *Controller) stopLocked(forced bool) bool {
	if !c.active {
		return false
	}

	c.video.Deactivate()
	c.control = StartControl
	c.active = false
	c.cancel()
	c.cancel = nil
	c.videoURL = ""
	c.display = display.Default()

	c.metrics.SessionsStopped.Add(1)
	c.metrics.SetActive(false)
	ran := strings.TrimSpace(humanize.RelTime(c.startedAt, c.now(), "", ""))
	if forced {
		c.metrics.ForcedStops.Add(1)
		c.log.Warn("Session %s stopped after failure (ran %s)", c.sessionID, ran)
	} else {
		c.log.Info("Session %s stopped (ran %s)", c.sessionID, ran)
	}
	return true
}

// streamURLLocked appends a strictly increasing cache-busting token so every
// start requests a fresh stream.
func (c *Controller) streamURLLocked() string {
	token := c.now().UnixMilli()
	if token <= c.lastToken {
		token = c.lastToken + 1
	}
	c.lastToken = token

	u, err := url.Parse(c.cfg.VideoURL)
	if err != nil {
		c.log.Warn("Invalid video URL %q: %v", c.cfg.VideoURL, err)
		return c.cfg.VideoURL
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(token, 10))
	q.Set("epoch", strconv.FormatUint(c.epoch, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Controller) raiseLocked(message string) alert.Alert {
	a := c.alerts.Raise(message)
	c.metrics.AlertsRaised.Add(1)
	c.log.Warn("Alert: %s", message)
	return a
}

func (c *Controller) viewLocked() View {
	v := View{
		Active:   c.active,
		Epoch:    c.epoch,
		Control:  c.control,
		VideoURL: c.videoURL,
		Display:  c.display,
	}
	if c.active {
		started := c.startedAt
		v.SessionID = c.sessionID
		v.StartedAt = &started
	}
	if a, ok := c.alerts.Current(); ok {
		v.Alert = &a
	}
	return v
}

func (c *Controller) publishLocked() {
	if len(c.listeners) == 0 {
		return
	}
	v := c.viewLocked()
	for _, l := range c.listeners {
		l(v)
	}
}

func (c *Controller) onAlertExpired(a alert.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debug("Alert %d expired", a.ID)
	c.publishLocked()
}

// poll runs one session's ticks. Fetches happen inline, so ticks never
// overlap and results arrive in order.
func (c *Controller) poll(ctx context.Context, epoch uint64, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		snap, err := c.fetcher.Fetch(ctx)
		c.OnTickComplete(epoch, snap, err)
	}
}
