package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/chazu/convm/vm"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event is pushed to websocket subscribers as a binary CBOR message.
type Event struct {
	Session    string      `cbor:"1,keyasint"`
	Type       string      `cbor:"2,keyasint"` // say, print, menu, ask, stopped, continued, finished
	Text       string      `cbor:"3,keyasint,omitempty"`
	Reason     string      `cbor:"4,keyasint,omitempty"`
	PC         uint16      `cbor:"5,keyasint,omitempty"`
	Candidates []Candidate `cbor:"6,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// hub: per-session fan-out
// ---------------------------------------------------------------------------

type hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

// subscribe returns a channel of events and a function that cancels the
// subscription. The channel is closed when the hub closes.
func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// publish delivers e to every subscriber that has room for it.
func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind, drop event
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// pumpDebugEvents forwards a session's debugger events to its hub until the
// session ends.
func pumpDebugEvents(sess *Session) {
	for {
		select {
		case e := <-sess.Debugger.Events():
			sess.hub.publish(debugEvent(sess.ID, e))
		case <-sess.done:
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Websocket feed
// ---------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Clients are debugging tools; the listener defaults to loopback.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveEvents streams a session's events: GET /debug/events?session=<id>.
func (s *ConvServer) serveEvents(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	sess, ok := s.sessions.Get(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	// Subscribe before the handshake completes so a client that starts
	// stepping right after connecting sees every event.
	events, cancel := sess.hub.subscribe()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		logger.Warningf("websocket upgrade: %v", err)
		return
	}
	go readPump(conn, cancel)
	writePump(conn, events)
}

// readPump discards client messages and cancels the subscription when the
// connection goes away.
func readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debugf("websocket closed: %v", err)
			}
			return
		}
	}
}

// writePump sends events and keepalive pings until the subscription ends.
func writePump(conn *websocket.Conn, events <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case e, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			data, err := cborEncMode.Marshal(e)
			if err != nil {
				logger.Errorf("encoding event: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// debugEvent converts a debugger event for subscribers.
func debugEvent(session string, e vm.DebugEvent) Event {
	return Event{Session: session, Type: e.Type, Reason: e.Reason, PC: e.PC}
}
