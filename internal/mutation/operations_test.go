package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/types"
)

type fakeClient struct {
	mu            sync.Mutex
	sends         []api.SendRequest
	edits         map[string]string
	recalls       []string
	clears        [][2]string
	notifications []types.Notification

	sendErr, editErr, recallErr, clearErr, notifyErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{edits: map[string]string{}}
}

func (f *fakeClient) SendMessage(_ context.Context, req api.SendRequest) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return types.Message{}, f.sendErr
	}
	return types.Message{ID: "msg_1", To: req.To, Body: req.Body}, nil
}

func (f *fakeClient) EditMessage(_ context.Context, id, body string) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[id] = body
	if f.editErr != nil {
		return types.Message{}, f.editErr
	}
	return types.Message{ID: id, Body: body}, nil
}

func (f *fakeClient) RecallMessage(_ context.Context, id string) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalls = append(f.recalls, id)
	if f.recallErr != nil {
		return types.Message{}, f.recallErr
	}
	return types.Message{ID: id, Withdrawn: true}, nil
}

func (f *fakeClient) ClearConversation(_ context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, [2]string{from, to})
	return f.clearErr
}

func (f *fakeClient) PostNotification(_ context.Context, n types.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return f.notifyErr
}

type countingRefresher struct {
	mu    sync.Mutex
	count int
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

func (r *countingRefresher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// scriptedPresenter answers dialogs and prompts from fixed values and
// records everything it was asked to show.
type scriptedPresenter struct {
	confirm   bool
	promptVal string
	promptOK  bool
	err       error

	dialogs []Dialog
	prompts []PromptRequest
	toasts  []Toast
}

func (p *scriptedPresenter) Confirm(_ context.Context, d Dialog) (bool, error) {
	p.dialogs = append(p.dialogs, d)
	return p.confirm, p.err
}

func (p *scriptedPresenter) Prompt(_ context.Context, req PromptRequest) (string, bool, error) {
	p.prompts = append(p.prompts, req)
	return p.promptVal, p.promptOK, p.err
}

func (p *scriptedPresenter) Notify(t Toast) {
	p.toasts = append(p.toasts, t)
}

var alice = types.Profile{UserID: "alice", FirstName: "Alice", LastName: "Liddell", ProfileImage: "https://img/alice.png"}

func setup(p Presenter) (*Operations, *fakeClient, *countingRefresher) {
	c := newFakeClient()
	r := &countingRefresher{}
	return New(c, r, p, alice), c, r
}

func TestSend_BlankBodyIssuesNoRequest(t *testing.T) {
	p := &scriptedPresenter{}
	ops, c, r := setup(p)

	for _, body := range []string{"", " ", "\t\n  "} {
		assert.Equal(t, Rejected, ops.Send(t.Context(), "bob", "Bob B", body))
	}

	assert.Empty(t, c.sends)
	assert.Empty(t, c.notifications)
	assert.Empty(t, p.toasts)
	assert.Zero(t, r.calls())
}

func TestSend_Success(t *testing.T) {
	p := &scriptedPresenter{}
	ops, c, r := setup(p)

	assert.Equal(t, Done, ops.Send(t.Context(), "bob", "Bob Builder", "  hello  "))

	require.Len(t, c.sends, 1)
	assert.Equal(t, api.SendRequest{To: "bob", ToName: "Bob Builder", Body: "  hello  "}, c.sends[0])

	require.Len(t, c.notifications, 1)
	assert.Equal(t, types.Notification{
		FromID:      "alice",
		ToID:        "bob",
		ActionID:    "alice",
		Message:     "Alice Liddell just messaged you",
		SenderImage: "https://img/alice.png",
		SenderName:  "Alice Liddell",
		Location:    "chat",
	}, c.notifications[0])

	assert.Equal(t, []Toast{{Kind: ToastSuccess, Title: TitleSent, Duration: 1200 * time.Millisecond}}, p.toasts)
	assert.Equal(t, 1, r.calls())
}

func TestSend_NotificationFailureIsNonFatal(t *testing.T) {
	p := &scriptedPresenter{}
	ops, c, r := setup(p)
	c.notifyErr = errors.New("boom")

	assert.Equal(t, Done, ops.Send(t.Context(), "bob", "Bob", "hi"))
	assert.Len(t, c.sends, 1)
	assert.Equal(t, 1, r.calls(), "the conversation still refreshes")
	assert.Len(t, p.toasts, 1)
	assert.Equal(t, ToastSuccess, p.toasts[0].Kind)
}

func TestSend_FailureOnlyLogs(t *testing.T) {
	p := &scriptedPresenter{}
	ops, c, r := setup(p)
	c.sendErr = errors.New("offline")

	assert.Equal(t, Failed, ops.Send(t.Context(), "bob", "Bob", "hi"))
	assert.Empty(t, p.toasts, "send failures are not acknowledged")
	assert.Empty(t, c.notifications)
	assert.Zero(t, r.calls())
}

func TestEdit_Success(t *testing.T) {
	p := &scriptedPresenter{promptVal: "fixed typo", promptOK: true}
	ops, c, r := setup(p)

	assert.Equal(t, Done, ops.Edit(t.Context(), "msg_1", "fixd typo"))

	require.Len(t, p.prompts, 1)
	req := p.prompts[0]
	assert.Equal(t, "Edit message", req.Title)
	assert.Equal(t, "fixd typo", req.Initial)
	assert.Equal(t, "Update", req.ConfirmLabel)
	require.NotNil(t, req.Validate)
	assert.EqualError(t, req.Validate("   "), MessageRequired)
	assert.NoError(t, req.Validate("x"))

	assert.Equal(t, "fixed typo", c.edits["msg_1"])
	assert.Equal(t, []Toast{{Kind: ToastSuccess, Title: TitleUpdated, Duration: 1200 * time.Millisecond}}, p.toasts)
	assert.Equal(t, 1, r.calls())
}

func TestEdit_Cancelled(t *testing.T) {
	p := &scriptedPresenter{promptVal: "ignored", promptOK: false}
	ops, c, r := setup(p)

	assert.Equal(t, Cancelled, ops.Edit(t.Context(), "msg_1", "x"))
	assert.Empty(t, c.edits)
	assert.Empty(t, p.toasts)
	assert.Zero(t, r.calls())
}

func TestEdit_BlankValueRejected(t *testing.T) {
	p := &scriptedPresenter{promptVal: "  ", promptOK: true}
	ops, c, _ := setup(p)

	assert.Equal(t, Rejected, ops.Edit(t.Context(), "msg_1", "x"))
	assert.Empty(t, c.edits)
}

func TestEdit_Failure(t *testing.T) {
	p := &scriptedPresenter{promptVal: "new", promptOK: true}
	ops, c, r := setup(p)
	c.editErr = errors.New("status 204")

	assert.Equal(t, Failed, ops.Edit(t.Context(), "msg_1", "old"))
	assert.Equal(t, []Toast{{Kind: ToastFailure, Title: TitleUpdateFailed, Duration: 2000 * time.Millisecond}}, p.toasts)
	assert.Zero(t, r.calls())
}

func TestRecall(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		p := &scriptedPresenter{confirm: true}
		ops, c, r := setup(p)

		assert.Equal(t, Done, ops.Recall(t.Context(), "msg_1"))
		require.Len(t, p.dialogs, 1)
		assert.Equal(t, Dialog{Title: "Delete Message", Text: "Delete for everyone ?", ConfirmLabel: "Delete", CancelLabel: "Cancel"}, p.dialogs[0])
		assert.Equal(t, []string{"msg_1"}, c.recalls)
		assert.Equal(t, TitleDeleted, p.toasts[0].Title)
		assert.Equal(t, 1, r.calls())
	})

	t.Run("declined", func(t *testing.T) {
		p := &scriptedPresenter{confirm: false}
		ops, c, r := setup(p)

		assert.Equal(t, Cancelled, ops.Recall(t.Context(), "msg_1"))
		assert.Empty(t, c.recalls)
		assert.Zero(t, r.calls())
	})

	t.Run("presenter error counts as cancel", func(t *testing.T) {
		p := &scriptedPresenter{confirm: true, err: context.Canceled}
		ops, c, _ := setup(p)

		assert.Equal(t, Cancelled, ops.Recall(t.Context(), "msg_1"))
		assert.Empty(t, c.recalls)
	})

	t.Run("failure", func(t *testing.T) {
		p := &scriptedPresenter{confirm: true}
		ops, c, r := setup(p)
		c.recallErr = errors.New("500")

		assert.Equal(t, Failed, ops.Recall(t.Context(), "msg_1"))
		assert.Equal(t, []Toast{{Kind: ToastFailure, Title: TitleDeleteFailed, Duration: 2000 * time.Millisecond}}, p.toasts)
		assert.Zero(t, r.calls())
	})
}

func TestClear(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		p := &scriptedPresenter{confirm: true}
		ops, c, r := setup(p)

		assert.Equal(t, Done, ops.Clear(t.Context(), "alice", "bob"))
		assert.Equal(t, "Clear chat ?", p.dialogs[0].Title)
		assert.Equal(t, "Do you want to clear chat ?", p.dialogs[0].Text)
		assert.Equal(t, [][2]string{{"alice", "bob"}}, c.clears)
		assert.Equal(t, TitleCleared, p.toasts[0].Title)
		assert.Equal(t, 1, r.calls())
	})

	t.Run("missing identity", func(t *testing.T) {
		p := &scriptedPresenter{confirm: true}
		ops, c, _ := setup(p)

		assert.Equal(t, Rejected, ops.Clear(t.Context(), "alice", ""))
		assert.Empty(t, p.dialogs)
		assert.Empty(t, c.clears)
	})

	t.Run("failure", func(t *testing.T) {
		p := &scriptedPresenter{confirm: true}
		ops, c, r := setup(p)
		c.clearErr = errors.New("500")

		assert.Equal(t, Failed, ops.Clear(t.Context(), "alice", "bob"))
		assert.Equal(t, TitleClearFailed, p.toasts[0].Title)
		assert.Equal(t, ToastFailure, p.toasts[0].Kind)
		assert.Zero(t, r.calls())
	})
}

func TestNopPresenter(t *testing.T) {
	ops := New(newFakeClient(), nil, nil, alice)

	assert.Equal(t, Done, ops.Recall(t.Context(), "msg_1"))
	assert.Equal(t, Done, ops.Edit(t.Context(), "msg_1", "unchanged"))
	assert.Equal(t, Rejected, ops.Edit(t.Context(), "msg_1", ""))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "failed", Failed.String())
}
