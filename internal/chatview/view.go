// Package chatview is the conversation screen without a toolkit: it owns a
// session controller, the viewer's push subscription, the counterpart's
// profile and the local UI state, and exposes the mutation operations.
//
// A View follows one counterpart at a time. Navigate switches counterparts
// without resubscribing; push events always refresh whichever conversation
// is current when they arrive.
package chatview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/chaterr"
	"github.com/leonletto/chatsync/internal/mutation"
	"github.com/leonletto/chatsync/internal/push"
	"github.com/leonletto/chatsync/internal/render"
	"github.com/leonletto/chatsync/internal/session"
	"github.com/leonletto/chatsync/internal/types"
)

// ErrUnmounted is returned by operations on a view after Unmount.
var ErrUnmounted = errors.New("chatview: view unmounted")

// Client is everything the view needs from the server.
type Client interface {
	session.Fetcher
	mutation.Client
	GetProfile(ctx context.Context, userID string) (types.Profile, error)
}

// Options configures Mount.
type Options struct {
	Client        Client
	Viewer        types.Profile
	CounterpartID string
	// ServerURL enables the push subscription when set.
	ServerURL   string
	PushOptions []push.Option
	Presenter   mutation.Presenter
	Logger      zerolog.Logger
	// OnChange is called after any change to the view's snapshot. It must
	// not block; it may call Snapshot.
	OnChange func()
}

// Snapshot is a consistent view of everything a client draws.
type Snapshot struct {
	Viewer        types.Profile
	CounterpartID string
	Profile       types.ProfileState
	Thread        render.Thread
	Draft         string
	MenuOpen      bool
}

// View is a mounted conversation screen.
type View struct {
	client     Client
	viewer     types.Profile
	controller *session.Controller
	sub        *push.Subscription
	ops        *mutation.Operations
	logger     zerolog.Logger
	onChange   func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	profileGen uint64
	profile    types.ProfileState
	draft      string
	menuOpen   bool
}

// Mount builds the view, subscribes to the viewer's push channel and loads
// the first conversation. It returns once the initial refresh and profile
// lookup have finished; their failures are logged and leave the view in the
// loading or unresolved state rather than failing Mount.
func Mount(ctx context.Context, opts Options) (*View, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("chatview: client is required")
	}
	if opts.Viewer.UserID == "" {
		return nil, fmt.Errorf("chatview: viewer ID is required")
	}
	if opts.CounterpartID == "" {
		return nil, fmt.Errorf("chatview: counterpart ID is required")
	}

	logger := opts.Logger.With().Str("component", "chatview").Str("viewer", opts.Viewer.UserID).Logger()
	viewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	v := &View{
		client:   opts.Client,
		viewer:   opts.Viewer,
		logger:   logger,
		onChange: opts.OnChange,
		ctx:      viewCtx,
		cancel:   cancel,
	}
	v.controller = session.New(opts.Client,
		session.WithLogger(opts.Logger),
		session.WithOnChange(func(session.State) { v.changed() }),
	)
	v.ops = mutation.New(opts.Client, v.controller, opts.Presenter, opts.Viewer, mutation.WithLogger(opts.Logger))

	if opts.ServerURL != "" {
		pushOpts := append([]push.Option{push.WithLogger(opts.Logger)}, opts.PushOptions...)
		sub, err := push.New(opts.ServerURL, opts.Viewer.UserID, v.onPush, pushOpts...)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("chatview: %w", err)
		}
		if err := sub.Start(viewCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("chatview: start push: %w", err)
		}
		v.sub = sub
	}

	if err := v.Navigate(ctx, opts.CounterpartID); err != nil && !errors.Is(err, ErrUnmounted) {
		logger.Debug().Err(err).Msg("initial load incomplete")
	}
	return v, nil
}

// Navigate switches the view to counterpartID: the message list and the
// profile are reset and reloaded, and late results for the previous
// counterpart are discarded. The push subscription is kept.
func (v *View) Navigate(ctx context.Context, counterpartID string) error {
	if counterpartID == "" {
		return fmt.Errorf("chatview: counterpart ID is required")
	}
	ctx, done, err := v.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	v.mu.Lock()
	v.profileGen++
	gen := v.profileGen
	v.profile = types.ProfileState{}
	v.menuOpen = false
	v.mu.Unlock()
	v.changed()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.resolveProfile(ctx, gen, counterpartID)
	}()
	err = v.controller.Init(ctx, counterpartID)
	wg.Wait()
	return err
}

// Refresh reloads the current conversation.
func (v *View) Refresh(ctx context.Context) error {
	ctx, done, err := v.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return v.controller.Refresh(ctx)
}

// Unmount tears the view down. The push subscription is closed before
// Unmount returns, in-flight work is cancelled and waited for, and any
// response arriving afterwards is discarded.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	if v.sub != nil {
		if err := v.sub.Close(); err != nil {
			v.logger.Debug().Err(err).Msg("closing push subscription")
		}
	}
	v.controller.Close()
	v.cancel()
	v.wg.Wait()
	v.logger.Debug().Msg("view unmounted")
}

// Snapshot returns the current view state.
func (v *View) Snapshot() Snapshot {
	state := v.controller.State()

	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Viewer:        v.viewer,
		CounterpartID: state.CounterpartID,
		Profile:       v.profile,
		Thread:        render.Render(state, v.viewer.UserID),
		Draft:         v.draft,
		MenuOpen:      v.menuOpen,
	}
}

// Draft returns the text in the input field.
func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// SetDraft replaces the text in the input field.
func (v *View) SetDraft(text string) {
	v.mu.Lock()
	v.draft = text
	v.mu.Unlock()
	v.changed()
}

// MenuOpen reports whether the auxiliary menu is expanded.
func (v *View) MenuOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.menuOpen
}

// ToggleMenu expands or collapses the auxiliary menu.
func (v *View) ToggleMenu() {
	v.mu.Lock()
	v.menuOpen = !v.menuOpen
	v.mu.Unlock()
	v.changed()
}

func (v *View) onPush(ctx context.Context) {
	v.logger.Debug().Str("counterpart", v.controller.CounterpartID()).Msg("push event, refreshing")
	// Failures are logged by the controller.
	_ = v.controller.Refresh(ctx)
}

func (v *View) resolveProfile(ctx context.Context, gen uint64, counterpartID string) {
	log := v.logger.With().Str("counterpart", counterpartID).Logger()

	profile, err := v.client.GetProfile(ctx, counterpartID)
	next := types.ProfileState{Status: types.ProfileFound, Profile: profile}
	if err != nil {
		if chaterr.CodeOf(err) != chaterr.NotFound {
			log.Warn().Err(err).Msg("profile lookup failed")
			return
		}
		next = types.ProfileState{Status: types.ProfileNotFound}
	}

	v.mu.Lock()
	if v.closed || gen != v.profileGen {
		v.mu.Unlock()
		log.Debug().Msg("dropping profile for a previous conversation")
		return
	}
	v.profile = next
	v.mu.Unlock()
	log.Debug().Stringer("status", next.Status).Msg("profile resolved")
	v.changed()
}

// begin registers an operation so Unmount can wait for it. The returned
// context is cancelled by either ctx or Unmount.
func (v *View) begin(ctx context.Context) (context.Context, func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, nil, ErrUnmounted
	}
	v.wg.Add(1)

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(v.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
		v.wg.Done()
	}, nil
}

func (v *View) changed() {
	if v.onChange == nil {
		return
	}
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if !closed {
		v.onChange()
	}
}
