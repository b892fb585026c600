package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/identity"
	"github.com/leonletto/chatsync/internal/push"
	"github.com/leonletto/chatsync/internal/types"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// Hub fans push events out to every connection subscribed to a channel.
// A channel is named after the user it belongs to.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	metrics  *metrics

	mu       sync.RWMutex
	channels map[string]map[*pushConn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger, m *metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// Push frames carry no data, only a hint to refetch.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:   logger.With().Str("component", "hub").Logger(),
		metrics:  m,
		channels: make(map[string]map[*pushConn]struct{}),
	}
}

// ServeHTTP upgrades GET /ws?channel=<userID> to a push connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get(push.ChannelParam)
	if err := identity.ValidateUserID(channel); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid channel: %v", err))
		return
	}

	// Hold the read lock across the closed check and wg.Add so Close
	// cannot start waiting in between.
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	h.wg.Add(1)
	h.mu.RUnlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wg.Done()
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	pc := &pushConn{conn: conn, channel: channel, sendCh: make(chan []byte, sendBuffer)}
	if !h.register(pc) {
		h.wg.Done()
		_ = conn.Close()
		return
	}
	go h.serve(pc)
}

// Publish sends an event to every connection on channel and returns how
// many connections it was queued for. Users with no open connection simply
// refetch on their next refresh.
func (h *Hub) Publish(channel string, data any) int {
	payload, err := json.Marshal(types.PushEvent{Event: channel, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("channel", channel).Msg("marshal push event")
		return 0
	}

	h.mu.RLock()
	conns := make([]*pushConn, 0, len(h.channels[channel]))
	for pc := range h.channels[channel] {
		conns = append(conns, pc)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, pc := range conns {
		if err := pc.send(payload); err != nil {
			// Slow or gone; drop it, the client redials and resyncs.
			h.logger.Debug().Err(err).Str("channel", channel).Msg("dropping push connection")
			h.unregister(pc)
			_ = pc.close()
			continue
		}
		delivered++
	}
	if h.metrics != nil {
		h.metrics.pushEvents.Add(float64(delivered))
	}
	return delivered
}

// Count returns the number of open connections on channel.
func (h *Hub) Count(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Close disconnects every client and waits for their goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*pushConn
	for _, set := range h.channels {
		for pc := range set {
			all = append(all, pc)
		}
	}
	h.channels = make(map[string]map[*pushConn]struct{})
	h.mu.Unlock()

	for _, pc := range all {
		_ = pc.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.logger.Warn().Msg("timed out waiting for push connections to close")
	}
}

func (h *Hub) register(pc *pushConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set := h.channels[pc.channel]
	if set == nil {
		set = make(map[*pushConn]struct{})
		h.channels[pc.channel] = set
	}
	set[pc] = struct{}{}
	if h.metrics != nil {
		h.metrics.activeConns.Inc()
	}
	h.logger.Debug().Str("channel", pc.channel).Int("connections", len(set)).Msg("push client connected")
	return true
}

func (h *Hub) unregister(pc *pushConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[pc.channel]
	if !ok {
		return
	}
	if _, ok := set[pc]; !ok {
		return
	}
	delete(set, pc)
	if len(set) == 0 {
		delete(h.channels, pc.channel)
	}
	if h.metrics != nil {
		h.metrics.activeConns.Dec()
	}
}

func (h *Hub) serve(pc *pushConn) {
	defer h.wg.Done()
	defer func() {
		h.unregister(pc)
		_ = pc.close()
		h.logger.Debug().Str("channel", pc.channel).Msg("push client disconnected")
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- pc.readLoop() }()
	go func() { errCh <- pc.writeLoop() }()
	if err := <-errCh; err != nil {
		h.logger.Debug().Err(err).Str("channel", pc.channel).Msg("push connection ended")
	}
	_ = pc.close()
	<-errCh
}

// pushConn is one subscriber connection. Writes go through sendCh so only
// writeLoop touches the socket's writer.
type pushConn struct {
	conn    *websocket.Conn
	channel string
	sendCh  chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *pushConn) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *pushConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.sendCh)
	return c.conn.Close()
}

// readLoop drains client frames; subscribers never send data but reading is
// needed to process pongs and notice disconnects.
func (c *pushConn) readLoop() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("read: %w", err)
			}
			return nil
		}
	}
}

func (c *pushConn) writeLoop() error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				return nil
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
