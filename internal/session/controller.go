// Package session owns the local message list of one conversation and keeps
// it consistent with the store by full refetch.
//
// Every refresh takes a sequence number when it is issued. A response is
// applied only if no later-issued refresh has been applied already and the
// conversation it was issued for is still the active one. Overlapping
// refreshes can therefore complete in any order without an older list
// overwriting a newer one.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/types"
)

var (
	// ErrStale is returned by Refresh when its response was dropped because a
	// newer refresh was applied first or the conversation changed meanwhile.
	ErrStale = errors.New("session: refresh superseded")
	// ErrClosed is returned once the controller has been torn down.
	ErrClosed = errors.New("session: controller closed")
	// ErrNoConversation is returned by Refresh before Init.
	ErrNoConversation = errors.New("session: no active conversation")
)

// Fetcher loads the full conversation between the viewer and a counterpart.
type Fetcher interface {
	ListMessages(ctx context.Context, counterpartID string) ([]types.Message, error)
}

// State is a snapshot of the conversation view state.
type State struct {
	CounterpartID string
	// Loaded is false until the first successful refresh of this
	// conversation. An unloaded state must render as "loading", never as an
	// empty thread.
	Loaded   bool
	Messages []types.Message
	// Generation changes every time the conversation is re-initialized.
	Generation uint64
	// Seq is the sequence number of the refresh that produced Messages.
	Seq uint64
}

// Controller is the single writer of a conversation's message list.
type Controller struct {
	fetcher  Fetcher
	logger   zerolog.Logger
	onChange func(State)

	// applyMu orders state transitions and their onChange calls, so
	// observers see states in the order they were applied.
	applyMu sync.Mutex

	mu         sync.Mutex
	state      State
	nextSeq    uint64
	appliedSeq uint64
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithOnChange registers a hook that receives every state the controller
// moves to. The hook must not call Init or Refresh synchronously.
func WithOnChange(fn func(State)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// New creates a controller with no active conversation.
func New(fetcher Fetcher, opts ...Option) *Controller {
	c := &Controller{
		fetcher: fetcher,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "session").Logger()
	return c
}

// Init discards any prior conversation, switches to counterpartID in the
// loading state, and performs the initial refresh. Responses still in
// flight for the previous conversation are dropped when they arrive.
func (c *Controller) Init(ctx context.Context, counterpartID string) error {
	if counterpartID == "" {
		return fmt.Errorf("session: counterpart ID must not be empty")
	}

	c.applyMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.applyMu.Unlock()
		return ErrClosed
	}
	c.state = State{
		CounterpartID: counterpartID,
		Generation:    c.state.Generation + 1,
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snapshot)
	c.applyMu.Unlock()

	c.logger.Debug().Str("counterpart", counterpartID).Uint64("generation", snapshot.Generation).Msg("conversation initialized")

	return c.Refresh(ctx)
}

// Refresh refetches the whole conversation and, if still current, replaces
// the local list with the result. On fetch failure the previous list (or the
// loading state) is kept and the failure is only logged; the returned error
// is informational. Refresh is safe to call concurrently and repeatedly.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.CounterpartID == "" {
		c.mu.Unlock()
		return ErrNoConversation
	}
	c.nextSeq++
	seq := c.nextSeq
	generation := c.state.Generation
	counterpartID := c.state.CounterpartID
	c.mu.Unlock()

	log := c.logger.With().Str("counterpart", counterpartID).Uint64("seq", seq).Logger()

	messages, err := c.fetcher.ListMessages(ctx, counterpartID)
	if err != nil {
		log.Warn().Err(err).Msg("refresh failed, keeping previous list")
		return err
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		log.Debug().Msg("dropping refresh response after teardown")
		return ErrClosed
	case generation != c.state.Generation:
		c.mu.Unlock()
		log.Debug().Msg("dropping refresh response for a previous conversation")
		return ErrStale
	case seq <= c.appliedSeq:
		applied := c.appliedSeq
		c.mu.Unlock()
		log.Debug().Uint64("applied_seq", applied).Msg("dropping out-of-order refresh response")
		return ErrStale
	}

	c.state.Messages = slices.Clone(messages)
	if c.state.Messages == nil {
		c.state.Messages = []types.Message{}
	}
	c.state.Loaded = true
	c.state.Seq = seq
	c.appliedSeq = seq
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	log.Debug().Int("messages", len(snapshot.Messages)).Msg("refresh applied")
	c.notify(snapshot)
	return nil
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CounterpartID returns the active conversation's counterpart, or "".
func (c *Controller) CounterpartID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CounterpartID
}

// Close tears the controller down. Responses arriving afterwards are
// dropped and later calls to Init or Refresh return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.state = State{Generation: c.state.Generation + 1}
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.Messages = slices.Clone(c.state.Messages)
	return s
}

func (c *Controller) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
