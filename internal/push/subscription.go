// Package push keeps a websocket subscription to the viewer's push channel
// open and turns every event on it into a call to a handler.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Path is the server route push clients dial.
	Path = "/ws"
	// ChannelParam is the query parameter naming the channel to join.
	ChannelParam = "channel"

	defaultMinBackoff  = 250 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
	defaultReadTimeout = 90 * time.Second
	writeWait          = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("push: subscription already started")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("push: subscription closed")
)

// Handler is invoked once per event received on the channel, and once
// after every reconnect to cover events missed while disconnected. The
// context is cancelled when the subscription is closed.
type Handler func(ctx context.Context)

// frame is the wire shape of a push event. Data is opaque to subscribers.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Subscription is a single-use subscription to one push channel.
type Subscription struct {
	url         string
	channel     string
	handler     Handler
	logger      zerolog.Logger
	dialer      *websocket.Dialer
	minBackoff  time.Duration
	maxBackoff  time.Duration
	readTimeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithLogger sets the subscription's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Subscription) {
		s.logger = l
	}
}

// WithBackoff sets the first and the maximum delay between redial attempts.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(s *Subscription) {
		if minDelay > 0 {
			s.minBackoff = minDelay
		}
		if maxDelay >= s.minBackoff {
			s.maxBackoff = maxDelay
		}
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Subscription) {
		s.dialer = d
	}
}

// WithReadTimeout sets how long a connection may stay silent (no frames and
// no pings) before it is considered lost.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Subscription) {
		s.readTimeout = d
	}
}

// WebSocketURL derives the push endpoint for channel from an http(s) server URL.
func WebSocketURL(serverURL, channel string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + Path
	u.RawQuery = url.Values{ChannelParam: {channel}}.Encode()
	return u.String(), nil
}

// New creates a subscription to channel on the server at serverURL. Nothing
// is dialed until Start.
func New(serverURL, channel string, handler Handler, opts ...Option) (*Subscription, error) {
	if channel == "" {
		return nil, fmt.Errorf("push: channel must not be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("push: handler must not be nil")
	}
	wsURL, err := WebSocketURL(serverURL, channel)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		url:         wsURL,
		channel:     channel,
		handler:     handler,
		logger:      zerolog.Nop(),
		dialer:      websocket.DefaultDialer,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "push").Str("channel", channel).Logger()
	return s, nil
}

// Start begins the subscription in the background. The connection is dialed
// and redialed as needed until Close. Start may be called only once.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

// Close ends the subscription and waits for its goroutine to exit. Once
// Close returns, the handler is not running and will not be called again.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		err = s.conn.Close()
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	resync := false
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := s.backoff(attempt)
			attempt++
			resync = true
			s.logger.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempt).Msg("push dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		if !s.setConn(conn) {
			_ = conn.Close()
			return
		}
		s.logger.Debug().Str("url", s.url).Msg("push connected")

		if resync {
			s.logger.Info().Msg("push reconnected, resyncing")
			s.dispatch(ctx)
		}

		err = s.readLoop(ctx, conn)
		s.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		resync = true
		s.logger.Warn().Err(err).Msg("push connection lost")
	}
}

func (s *Subscription) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.url, err)
	}
	return conn, nil
}

// setConn records the live connection so Close can interrupt its read. It
// reports false if the subscription was closed in the meantime.
func (s *Subscription) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != nil && s.closed {
		return false
	}
	s.conn = conn
	return true
}

func (s *Subscription) readLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() {
		if s.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
	}
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed push frame")
			continue
		}
		if f.Event != s.channel {
			s.logger.Debug().Str("event", f.Event).Msg("ignoring push frame for another channel")
			continue
		}
		s.dispatch(ctx)
	}
}

func (s *Subscription) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.handler(ctx)
}

func (s *Subscription) backoff(attempt int) time.Duration {
	d := s.minBackoff
	for i := 0; i < attempt && d < s.maxBackoff; i++ {
		d *= 2
	}
	return min(d, s.maxBackoff)
}
