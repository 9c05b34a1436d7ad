package signal

import (
	"encoding/json"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/gorilla/websocket"
)

// wsTransport wraps a websocket connection with serialized writes and a
// bounded write deadline.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) SendJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) SendPing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Registry maps a participant identifier to its live transport handle. It is
// the only place transports are looked up by identity. Re-registering an
// identifier overwrites the previous reference; closing the old transport is
// the caller's responsibility.
type Registry struct {
	mu         sync.RWMutex
	transports map[domain.UserID]ports.PeerTransport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[domain.UserID]ports.PeerTransport)}
}

func (r *Registry) Register(id domain.UserID, transport ports.PeerTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[id] = transport
}

// Get returns the transport for an identifier. A missing entry is not an
// error: it means "unreachable" and callers treat it as a disconnection.
func (r *Registry) Get(id domain.UserID) (ports.PeerTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	transport, ok := r.transports[id]
	return transport, ok
}

func (r *Registry) Unregister(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

// UnregisterTransport removes the mapping only when it still points at the
// given transport, so a reconnect that already overwrote the entry is kept.
func (r *Registry) UnregisterTransport(id domain.UserID, transport ports.PeerTransport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.transports[id]; ok && current == transport {
		delete(r.transports, id)
		return true
	}
	return false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}

var _ ports.ConnectionRegistry = (*Registry)(nil)

// Messenger sends envelope-framed events to participants through the
// registry.
type Messenger struct {
	registry *Registry
}

func NewMessenger(registry *Registry) *Messenger {
	return &Messenger{registry: registry}
}

// SendEvent wraps the event data in a wire envelope and delivers it to the
// participant's transport. Returns domain.ErrPeerUnreachable when no
// transport is registered.
func (m *Messenger) SendEvent(userID domain.UserID, event string, data interface{}) error {
	transport, ok := m.registry.Get(userID)
	if !ok {
		return domain.ErrPeerUnreachable
	}

	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return err
		}
	}
	return transport.SendJSON(&Envelope{
		Type:      MessageType(event),
		UserID:    userID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

var _ ports.Messenger = (*Messenger)(nil)
