package dashboard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/safety-monitor/internal/logger"
	"github.com/dj-oyu/safety-monitor/internal/session"
)

// SerializedEvent holds one view pre-serialized in both wire formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 encoded for SSE
}

// Serialize encodes a view as JSON and as a protobuf Struct.
func Serialize(v session.View) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal view: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("reshape view: %w", err)
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("build protobuf view: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf view: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StateBroadcaster fans published views out to push clients. Slow clients
// skip views instead of blocking the publisher.
type StateBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	latest  *SerializedEvent
	log     logger.Module
}

// NewStateBroadcaster creates an empty broadcaster.
func NewStateBroadcaster() *StateBroadcaster {
	return &StateBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		log:     logger.For("StateBroadcaster"),
	}
}

// Subscribe adds a client. The latest view, if any, is queued immediately.
func (sb *StateBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 8)
	if sb.latest != nil {
		ch <- sb.latest
	}
	sb.clients[id] = ch

	sb.log.Debug("Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (sb *StateBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		sb.log.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (sb *StateBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Publish serializes v and offers it to every client. It never blocks, so
// it can run as a session.Listener.
func (sb *StateBroadcaster) Publish(v session.View) {
	event, err := Serialize(v)
	if err != nil {
		sb.log.Error("Failed to serialize view: %v", err)
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.latest = event
	for id, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			sb.log.Debug("Client #%d too slow, skipping view (epoch %d)", id, v.Epoch)
		}
	}
}

// Close disconnects every client.
func (sb *StateBroadcaster) Close() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}
