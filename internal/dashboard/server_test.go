package dashboard

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/safety-monitor/internal/backendsim"
	"github.com/dj-oyu/safety-monitor/internal/metrics"
	"github.com/dj-oyu/safety-monitor/internal/session"
)

type fixture struct {
	sim     *backendsim.Simulator
	backend *httptest.Server
	server  *Server
	console *httptest.Server
}

func newFixture(t *testing.T, poll time.Duration) *fixture {
	t.Helper()
	sim := backendsim.New(backendsim.Config{Scenario: backendsim.DefaultScenario(), Step: time.Hour, FrameInterval: 10 * time.Millisecond})
	sim.Begin()
	backend := httptest.NewServer(sim.Handler())
	t.Cleanup(backend.Close)

	cfg := DefaultConfig()
	cfg.BackendURL = backend.URL
	cfg.PollInterval = poll
	cfg.RequestTimeout = time.Second

	srv, err := NewServer(cfg, metrics.New())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	console := httptest.NewServer(srv.Handler())
	t.Cleanup(console.Close)
	t.Cleanup(srv.Close)

	return &fixture{sim: sim, backend: backend, server: srv, console: console}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.console.Client().Get(f.console.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, body
}

func (f *fixture) post(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := f.console.Client().Post(f.console.URL+path, "application/json", body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, data
}

func decodeView(t *testing.T, body []byte) session.View {
	t.Helper()
	var v session.View
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode view: %v\nbody=%s", err, string(body))
	}
	return v
}

// waitFor blocks until the controller publishes a view matching cond.
func waitFor(t *testing.T, c *session.Controller, cond func(session.View) bool) session.View {
	t.Helper()
	found := make(chan session.View, 1)
	unsubscribe := c.Subscribe(func(v session.View) {
		if cond(v) {
			select {
			case found <- v:
			default:
			}
		}
	})
	defer unsubscribe()

	if v := c.View(); cond(v) {
		return v
	}
	select {
	case v := <-found:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for view; last %+v", c.View())
		return session.View{}
	}
}

func TestIndex(t *testing.T) {
	f := newFixture(t, time.Hour)
	resp, body := f.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	html := string(body)
	for _, needle := range []string{"<title>Safety Monitor</title>", "/api/state/stream", "startMonitoring", "emergencyBtn", "video-container"} {
		if !strings.Contains(html, needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}

	resp, _ = f.get(t, "/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /nope status = %d", resp.StatusCode)
	}
}

func TestToggleEndpoint(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, body := f.get(t, "/api/state")
	if v := decodeView(t, body); v.Active || v.Control != session.StartControl {
		t.Fatalf("initial view = %+v", v)
	}

	resp, body := f.post(t, "/api/session/toggle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d", resp.StatusCode)
	}
	v := decodeView(t, body)
	if !v.Active || v.Control != session.StopControl || v.SessionID == "" {
		t.Fatalf("after start = %+v", v)
	}
	if !strings.HasPrefix(v.VideoURL, "/stream?") || !strings.Contains(v.VideoURL, fmt.Sprintf("epoch=%d", v.Epoch)) {
		t.Fatalf("video url = %q", v.VideoURL)
	}

	_, body = f.post(t, "/api/session/toggle", nil)
	if v := decodeView(t, body); v.Active || v.VideoURL != "" {
		t.Fatalf("after stop = %+v", v)
	}

	resp, _ = f.get(t, "/api/session/toggle")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET toggle status = %d", resp.StatusCode)
	}
}

func TestPollingAppliesSnapshotsAndStopsOnFailure(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.sim.Pin(backendsim.Reading{Males: 3, Females: 1, CoverageRatio: 0.1})

	c := f.server.Controller()
	c.Bootstrap()

	v := waitFor(t, c, func(v session.View) bool {
		return v.Active && v.Alert != nil && v.Alert.Message == "Warning: Woman is surrounded by men"
	})
	if v.Display.PersonCount != "Person Count: 4" || !v.Display.StatusWarning {
		t.Fatalf("display = %+v", v.Display)
	}

	f.sim.SetFailing(true)
	v = waitFor(t, c, func(v session.View) bool { return !v.Active })
	if v.Alert == nil || v.Alert.Message != session.ConnectionErrorMessage {
		t.Fatalf("alert = %+v", v.Alert)
	}
}

func TestVideoErrorEndpoint(t *testing.T) {
	f := newFixture(t, time.Hour)
	c := f.server.Controller()
	c.Start()
	epoch := c.View().Epoch

	_, body := f.post(t, "/api/session/video-error", map[string]any{"epoch": epoch + 7})
	if v := decodeView(t, body); !v.Active {
		t.Fatalf("foreign epoch stopped the session")
	}

	_, body = f.post(t, "/api/session/video-error", map[string]any{"epoch": epoch})
	v := decodeView(t, body)
	if v.Active || v.Alert == nil || v.Alert.Message != session.VideoErrorMessage {
		t.Fatalf("after video error = %+v", v)
	}
}

func TestStreamProxyReportsUpstreamFailure(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.sim.SetFailing(true)
	c := f.server.Controller()
	c.Start()

	resp, _ := f.get(t, fmt.Sprintf("/stream?epoch=%d", c.View().Epoch))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	v := c.View()
	if v.Active || v.Alert == nil || v.Alert.Message != session.VideoErrorMessage {
		t.Fatalf("after stream failure = %+v", v)
	}
}

func TestStreamProxyForwardsFrames(t *testing.T) {
	f := newFixture(t, time.Hour)
	c := f.server.Controller()
	c.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/stream?epoch=%d", f.console.URL, c.View().Epoch), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.console.Client().Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace") {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
	buf := make([]byte, 64)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.HasPrefix(buf, []byte("--frame\r\n")) {
		t.Fatalf("unexpected stream start %q", buf)
	}

	// Stopping the session ends the proxied stream without a video alert.
	c.Stop()
	_, _ = io.Copy(io.Discard, resp.Body)
	if a := c.View().Alert; a != nil {
		t.Fatalf("stop raised alert %+v", a)
	}
}

func TestStreamWhenStoppedServesPlaceholder(t *testing.T) {
	f := newFixture(t, time.Hour)
	resp, body := f.get(t, "/stream?epoch=3")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("Content-Type: image/jpeg")) {
		t.Fatalf("placeholder frame missing")
	}
}

func TestEmergencyAndDismiss(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, body := f.post(t, "/api/emergency", nil)

	var res struct {
		Dial       string `json:"dial"`
		AlarmSound string `json:"alarm_sound"`
		Alert      struct {
			ID      uint64 `json:"id"`
			Message string `json:"message"`
		} `json:"alert"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Dial != "tel:112" || res.AlarmSound == "" || res.Alert.Message != EmergencyMessage {
		t.Fatalf("emergency response = %+v", res)
	}
	if f.server.Controller().Active() {
		t.Fatalf("emergency must not start a session")
	}

	_, body = f.post(t, "/api/alert/dismiss", map[string]any{"id": res.Alert.ID})
	if !strings.Contains(string(body), `"dismissed":true`) {
		t.Fatalf("dismiss response = %s", body)
	}

	resp, _ := f.post(t, "/api/alert/dismiss", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("dismiss without id status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.server.Controller().Start()
	resp, body := f.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "safemon_session_active 1") {
		t.Fatalf("metrics missing active gauge:\n%s", body)
	}
}

func readSSEEvent(t *testing.T, url string, accept string) (string, http.Header) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header
			}
		}
		if readErr != nil {
			t.Fatalf("read sse: %v", readErr)
		}
	}
}

func TestStateStreamJSON(t *testing.T) {
	f := newFixture(t, time.Hour)
	event, header := readSSEEvent(t, f.console.URL+"/api/state/stream", "")
	if header.Get("X-Content-Format") != "application/json" {
		t.Fatalf("format = %q", header.Get("X-Content-Format"))
	}
	payload := strings.TrimPrefix(event, "data: ")
	v := decodeView(t, []byte(payload))
	if v.Active || v.Display.Status != "No person detected" {
		t.Fatalf("first event = %+v", v)
	}
}

func TestStateStreamProtobuf(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.server.Controller().Start()

	event, header := readSSEEvent(t, f.console.URL+"/api/state/stream", "application/x-protobuf")
	if header.Get("X-Content-Format") != "application/protobuf" {
		t.Fatalf("format = %q", header.Get("X-Content-Format"))
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(event, "data: "))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		t.Fatalf("protobuf: %v", err)
	}
	if !st.GetFields()["active"].GetBoolValue() {
		t.Fatalf("protobuf view not active: %v", st.AsMap())
	}
}

func TestWebSocketCommands(t *testing.T) {
	f := newFixture(t, time.Hour)
	wsURL := "ws" + strings.TrimPrefix(f.console.URL, "http") + "/api/state/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readView := func() session.View {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return decodeView(t, data)
	}

	if v := readView(); v.Active {
		t.Fatalf("initial ws view active")
	}
	if err := conn.WriteJSON(Command{Type: "toggle"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 5; i++ {
		if v := readView(); v.Active {
			return
		}
	}
	t.Fatalf("toggle over websocket did not start the session")
}
