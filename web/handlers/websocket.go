package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

const (
	// queued frames per subscriber before it counts as slow and is evicted
	subscriberQueue   = 64
	frameWriteTimeout = 10 * time.Second
)

// subscriber receives encoded events. deliver must not block; a false
// return evicts the subscriber. detach is called once, on eviction or
// hub shutdown.
type subscriber interface {
	deliver(frame []byte) bool
	detach()
}

// WebSocketHub fans engine events out to connected WebSocket clients. Each
// event is encoded once and the same frame goes to every subscriber.
type WebSocketHub struct {
	events         chan Event
	joins          chan subscriber
	leaves         chan subscriber
	allowedOrigins []string

	mu   sync.RWMutex
	subs map[subscriber]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebSocketHub creates a hub. allowedOrigins are host[:port] patterns;
// requests without an Origin header are always accepted.
func NewWebSocketHub(allowedOrigins []string) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		events:         make(chan Event, 256),
		joins:          make(chan subscriber),
		leaves:         make(chan subscriber),
		allowedOrigins: allowedOrigins,
		subs:           make(map[subscriber]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run owns the subscriber set until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case s := <-h.joins:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			n := len(h.subs)
			h.mu.Unlock()
			log.Printf("websocket: subscriber joined (%d connected)", n)

		case s := <-h.leaves:
			h.mu.Lock()
			_, ok := h.subs[s]
			delete(h.subs, s)
			n := len(h.subs)
			h.mu.Unlock()
			if ok {
				s.detach()
				log.Printf("websocket: subscriber left (%d connected)", n)
			}

		case ev := <-h.events:
			h.fanOut(ev)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *WebSocketHub) fanOut(ev Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Printf("websocket: dropping %s event: %v", ev.Type, err)
		return
	}

	var evicted []subscriber
	h.mu.Lock()
	for s := range h.subs {
		if !s.deliver(frame) {
			delete(h.subs, s)
			evicted = append(evicted, s)
		}
	}
	h.mu.Unlock()

	for _, s := range evicted {
		s.detach()
	}
	if len(evicted) > 0 {
		log.Printf("websocket: evicted %d slow subscriber(s) on %s", len(evicted), ev.Type)
	}
}

// Stop ends Run and detaches every subscriber.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.detach()
	}
	log.Printf("websocket: hub stopped, %d subscriber(s) detached", len(subs))
}

// Publish queues an event of the given type stamped with the current time.
// Events are dropped, not queued without bound, when the hub falls behind.
func (h *WebSocketHub) Publish(eventType string, data interface{}) {
	ev := Event{Type: eventType, Time: time.Now().UTC(), Data: data}
	select {
	case h.events <- ev:
	default:
		log.Printf("websocket: event queue full, dropping %s", eventType)
	}
}

// ClientCount returns the number of attached subscribers.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscribe attaches s. It is a no-op once the hub is stopped.
func (h *WebSocketHub) Subscribe(s subscriber) {
	select {
	case h.joins <- s:
	case <-h.ctx.Done():
	}
}

// Unsubscribe detaches s. It is a no-op once the hub is stopped.
func (h *WebSocketHub) Unsubscribe(s subscriber) {
	select {
	case h.leaves <- s:
	case <-h.ctx.Done():
	}
}

func (h *WebSocketHub) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == u.Host {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades GET /ws. Clients only listen; a data frame from the
// client closes its connection.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	s := &wsSubscriber{conn: conn, queue: make(chan []byte, subscriberQueue)}
	h.Subscribe(s)

	// CloseRead's context ends once the peer goes away.
	go s.forward(conn.CloseRead(h.ctx), h)
}

// wsSubscriber forwards frames to one WebSocket connection.
type wsSubscriber struct {
	conn  *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	queue chan []byte
	once  sync.Once
}

func (s *wsSubscriber) deliver(frame []byte) bool {
	select {
	case s.queue <- frame:
		return true
	default:
		return false
	}
}

func (s *wsSubscriber) detach() {
	s.once.Do(func() { close(s.queue) })
}

func (s *wsSubscriber) forward(ctx context.Context, h *WebSocketHub) {
	defer func() {
		h.Unsubscribe(s)
		_ = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		select {
		case frame, ok := <-s.queue:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, frameWriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, frame) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			cancel()
			if err != nil {
				log.Printf("websocket: write failed: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// MockClient is a subscriber for tests. Frames land on SendChan, which is
// closed when the hub lets go of the client.
type MockClient struct {
	SendChan chan []byte
	once     sync.Once
}

func (m *MockClient) deliver(frame []byte) bool {
	select {
	case m.SendChan <- frame:
		return true
	default:
		return false
	}
}

func (m *MockClient) detach() {
	m.once.Do(func() { close(m.SendChan) })
}
