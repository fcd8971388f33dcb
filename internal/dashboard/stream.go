package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// handleStateStream streams views as SSE, JSON by default or base64
// protobuf when the client asks for it.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	useProtobuf := wantsProtobuf(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	done := s.metrics.ClientConnected()
	defer done()

	keepalive := time.NewTicker(s.cfg.StreamInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				s.log.Debug("SSE client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				s.log.Debug("SSE client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

// Command is a control message sent by a WebSocket client.
type Command struct {
	Type  string `json:"type"` // toggle, video_error, dismiss, emergency
	Epoch uint64 `json:"epoch,omitempty"`
	ID    uint64 `json:"id,omitempty"`
}

// handleStateWebSocket pushes JSON views and accepts Commands.
func (s *Server) handleStateWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	id, eventCh := s.broadcaster.Subscribe()
	done := s.metrics.ClientConnected()
	s.log.Debug("WebSocket client %s connected", r.RemoteAddr)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readCommands(conn)
	}()

	defer func() {
		s.broadcaster.Unsubscribe(id)
		done()
		conn.Close()
		<-readDone
		s.log.Debug("WebSocket client %s disconnected", r.RemoteAddr)
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return

		case event, ok := <-eventCh:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, event.JSONData); err != nil {
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readCommands(conn *websocket.Conn) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("WebSocket read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Debug("Ignoring malformed command: %v", err)
			continue
		}
		s.dispatch(cmd)
	}
}

func (s *Server) dispatch(cmd Command) {
	switch cmd.Type {
	case "toggle":
		s.controller.OnToggleRequested()
	case "video_error":
		s.controller.OnVideoError(cmd.Epoch)
	case "dismiss":
		s.controller.DismissAlert(cmd.ID)
	case "emergency":
		s.log.Warn("Emergency requested over WebSocket")
		s.controller.Notify(EmergencyMessage)
	default:
		s.log.Debug("Ignoring unknown command %q", cmd.Type)
	}
}
