package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/chaterr"
	"github.com/leonletto/chatsync/internal/config"
	"github.com/leonletto/chatsync/internal/push"
	"github.com/leonletto/chatsync/internal/schema"
	"github.com/leonletto/chatsync/internal/store"
	"github.com/leonletto/chatsync/internal/types"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Addr:   "127.0.0.1:0",
		DBPath: schema.MemoryPath,
		Profiles: []config.ProfileSeed{
			{UserID: "alice", FirstName: "Alice", LastName: "Liddell", Email: "alice@example.com"},
			{UserID: "bob", FirstName: "Bob", LastName: "Builder"},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(schema.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := New(cfg, st)
	require.NoError(t, srv.Seed(t.Context()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, ts
}

func clientFor(t *testing.T, ts *httptest.Server, viewer string) *api.Client {
	t.Helper()
	c, err := api.NewClient(ts.URL, viewer)
	require.NoError(t, err)
	return c
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se *api.HTTPStatusError
	require.True(t, errors.As(err, &se), "expected an HTTP status error, got %v", err)
	return se.StatusCode
}

func TestMissingViewerHeader(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + api.BasePath + "/messages/bob")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodGet, ts.URL+api.BasePath+"/profile/alice", nil)
	require.NoError(t, err)
	req.Header.Set(api.HeaderUserID, "bob")
	req.Header.Set(api.HeaderRequestID, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get(api.HeaderRequestID))
}

func TestGetProfile(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := clientFor(t, ts, "alice")

	p, err := c.GetProfile(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder", p.FullName())

	_, err = c.GetProfile(t.Context(), "nobody")
	require.Error(t, err)
	assert.Equal(t, chaterr.NotFound, chaterr.CodeOf(err))

	resp, err := http.DefaultClient.Do(func() *http.Request {
		r, _ := http.NewRequest(http.MethodGet, ts.URL+api.BasePath+"/profile/nobody", nil)
		r.Header.Set(api.HeaderUserID, "alice")
		return r
	}())
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"message":"user not found"}`, string(body))
}

func TestConversationLifecycle(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	alice := clientFor(t, ts, "alice")
	bob := clientFor(t, ts, "bob")
	ctx := t.Context()

	empty, err := alice.ListMessages(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	m1, err := alice.SendMessage(ctx, api.SendRequest{To: "bob", ToName: "Bob Builder", Body: "hi bob"})
	require.NoError(t, err)
	assert.Equal(t, "alice", m1.From)
	_, err = bob.SendMessage(ctx, api.SendRequest{To: "alice", Body: "hi alice"})
	require.NoError(t, err)

	// Both sides see the same conversation.
	fromAlice, err := alice.ListMessages(ctx, "bob")
	require.NoError(t, err)
	fromBob, err := bob.ListMessages(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, fromAlice, 2)
	assert.Equal(t, fromAlice, fromBob)
	assert.Equal(t, m1.ID, fromAlice[0].ID)

	// Only the author may edit or recall.
	_, err = bob.EditMessage(ctx, m1.ID, "hacked")
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))
	_, err = bob.RecallMessage(ctx, m1.ID)
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	edited, err := alice.EditMessage(ctx, m1.ID, "hi bob!")
	require.NoError(t, err)
	assert.Equal(t, "hi bob!", edited.Body)

	_, err = alice.EditMessage(ctx, m1.ID, "  ")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	_, err = alice.EditMessage(ctx, "msg_missing", "x")
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	recalled, err := alice.RecallMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, recalled.Withdrawn)

	list, err := bob.ListMessages(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, list[0].Withdrawn)

	// Outsiders cannot clear; participants can.
	carol := clientFor(t, ts, "carol")
	err = carol.ClearConversation(ctx, "alice", "bob")
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	require.NoError(t, bob.ClearConversation(ctx, "alice", "bob"))
	list, err = alice.ListMessages(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	alice := clientFor(t, ts, "alice")

	_, err := alice.SendMessage(t.Context(), api.SendRequest{To: "bob", Body: " \n"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	_, err = alice.SendMessage(t.Context(), api.SendRequest{To: "", Body: "hi"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestNotifications(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	alice := clientFor(t, ts, "alice")

	n := types.Notification{
		FromID: "alice", ToID: "bob", ActionID: "alice",
		Message: "Alice Liddell just messaged you", SenderName: "Alice Liddell", Location: "chat",
	}
	require.NoError(t, alice.PostNotification(t.Context(), n))

	spoofed := n
	spoofed.FromID = "carol"
	err := alice.PostNotification(t.Context(), spoofed)
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	got, err := srv.store.ListNotifications(t.Context(), "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice Liddell just messaged you", got[0].Message)
	assert.True(t, strings.HasPrefix(got[0].ID, "ntf_"))
}

func TestPushOnMutation(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	alice := clientFor(t, ts, "alice")

	calls := make(chan struct{}, 8)
	sub, err := push.New(ts.URL, "bob", func(context.Context) { calls <- struct{}{} })
	require.NoError(t, err)
	require.NoError(t, sub.Start(t.Context()))
	t.Cleanup(func() { _ = sub.Close() })

	require.Eventually(t, func() bool { return srv.Hub().Count("bob") == 1 }, 2*time.Second, 5*time.Millisecond)

	m, err := alice.SendMessage(t.Context(), api.SendRequest{To: "bob", Body: "ping"})
	require.NoError(t, err)
	expectCall(t, calls)

	_, err = alice.RecallMessage(t.Context(), m.ID)
	require.NoError(t, err)
	expectCall(t, calls)

	// Events for other users do not reach bob.
	_, err = alice.SendMessage(t.Context(), api.SendRequest{To: "carol", Body: "hi"})
	require.NoError(t, err)
	select {
	case <-calls:
		t.Fatal("bob was notified of a message to carol")
	case <-time.After(50 * time.Millisecond):
	}
}

func expectCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("no push event received")
	}
}

func TestPushRejectsBadChannel(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + push.Path + "?channel=" + "bad%20id")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, MaxRequestsPerSecond: 0.001, BurstSize: 2}
	_, ts := newTestServer(t, cfg)
	alice := clientFor(t, ts, "alice")
	bob := clientFor(t, ts, "bob")

	for range 2 {
		_, err := alice.ListMessages(t.Context(), "bob")
		require.NoError(t, err)
	}
	_, err := alice.ListMessages(t.Context(), "bob")
	assert.Equal(t, http.StatusTooManyRequests, statusOf(t, err))

	// Budgets are per viewer.
	_, err = bob.ListMessages(t.Context(), "alice")
	assert.NoError(t, err)
}

func TestRateLimiter_CleanupStale(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Allow("alice"))
	now = now.Add(5 * time.Minute)
	require.NoError(t, rl.Allow("bob"))

	assert.Equal(t, 1, rl.CleanupStale(2*time.Minute))
	assert.Equal(t, 0, rl.CleanupStale(2*time.Minute))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, MaxRequestsPerSecond: 0.001, BurstSize: 1})
	for range 5 {
		assert.NoError(t, rl.Allow("alice"))
	}
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	alice := clientFor(t, ts, "alice")
	_, err := alice.ListMessages(t.Context(), "bob")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `chatsync_http_requests_total{method="GET",route="/api/v1/messages/{counterpartId}",status="200"} 1`)
	assert.Contains(t, text, "chatsync_push_connections_active 0")
}

func TestStartStop(t *testing.T) {
	st, err := store.Open(schema.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := New(testConfig(), st)
	require.NoError(t, srv.Start(t.Context()))
	assert.Error(t, srv.Start(t.Context()), "second start must fail")

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}
