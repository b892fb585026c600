// Package mutation implements the user-initiated changes to a conversation:
// send, edit, recall for everyone and clear. Each operation asks the server
// to make the change, acknowledges the result through a Presenter and, on
// success, refreshes the conversation. None of them touches the local list
// directly.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/types"
)

const (
	successDuration = 1200 * time.Millisecond
	failureDuration = 2000 * time.Millisecond
)

// Acknowledgment and dialog copy.
const (
	TitleSent    = "Message sent"
	TitleUpdated = "Message updated"
	TitleDeleted = "Message deleted"
	TitleCleared = "Chat cleared"

	TitleUpdateFailed = "Failed to update message"
	TitleDeleteFailed = "Failed to delete message"
	TitleClearFailed  = "Can't clear chat"

	MessageRequired = "Message is required"
)

// ErrEmptyMessage is the validation error for a blank edit.
var ErrEmptyMessage = errors.New(MessageRequired)

// Outcome is the result of one operation as seen by the caller.
type Outcome int

const (
	// Done means the server applied the change.
	Done Outcome = iota
	// Cancelled means the user declined the confirmation.
	Cancelled
	// Rejected means the input failed validation; no request was made.
	Rejected
	// Failed means the request was made and did not succeed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Client is the subset of the API the operations call.
type Client interface {
	SendMessage(ctx context.Context, req api.SendRequest) (types.Message, error)
	EditMessage(ctx context.Context, messageID, body string) (types.Message, error)
	RecallMessage(ctx context.Context, messageID string) (types.Message, error)
	ClearConversation(ctx context.Context, fromID, toID string) error
	PostNotification(ctx context.Context, n types.Notification) error
}

// Refresher reloads the active conversation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Operations binds the mutation operations to a viewer.
type Operations struct {
	client    Client
	refresher Refresher
	presenter Presenter
	viewer    types.Profile
	logger    zerolog.Logger
}

// Option configures Operations.
type Option func(*Operations)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Operations) {
		o.logger = l
	}
}

// New returns operations acting as viewer. A nil presenter is replaced by Nop.
func New(client Client, refresher Refresher, presenter Presenter, viewer types.Profile, opts ...Option) *Operations {
	if presenter == nil {
		presenter = Nop{}
	}
	o := &Operations{
		client:    client,
		refresher: refresher,
		presenter: presenter,
		viewer:    viewer,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "mutation").Str("viewer", viewer.UserID).Logger()
	return o
}

// Send posts body to counterpartID. A blank body is rejected without any
// request. A failed send is only logged. After a successful send a
// notification is raised for the counterpart; its failure does not undo
// the send. The caller clears its input when Send returns Done.
func (o *Operations) Send(ctx context.Context, counterpartID, counterpartName, body string) Outcome {
	if strings.TrimSpace(body) == "" {
		return Rejected
	}
	log := o.logger.With().Str("counterpart", counterpartID).Logger()

	created, err := o.client.SendMessage(ctx, api.SendRequest{
		To:     counterpartID,
		ToName: counterpartName,
		Body:   body,
	})
	if err != nil {
		log.Warn().Err(err).Msg("send failed")
		return Failed
	}
	log.Debug().Str("message_id", created.ID).Msg("message sent")
	o.presenter.Notify(success(TitleSent))

	if err := o.client.PostNotification(ctx, o.notificationFor(counterpartID)); err != nil {
		log.Warn().Err(err).Msg("notification failed")
	}

	o.refresh(ctx)
	return Done
}

// Edit prompts for a new body prefilled with current and saves it.
func (o *Operations) Edit(ctx context.Context, messageID, current string) Outcome {
	log := o.logger.With().Str("message_id", messageID).Logger()

	body, ok, err := o.presenter.Prompt(ctx, PromptRequest{
		Title:        "Edit message",
		Initial:      current,
		ConfirmLabel: "Update",
		CancelLabel:  "Cancel",
		Validate:     ValidateBody,
	})
	if err != nil {
		log.Debug().Err(err).Msg("edit prompt aborted")
		return Cancelled
	}
	if !ok {
		return Cancelled
	}
	if ValidateBody(body) != nil {
		return Rejected
	}

	if _, err := o.client.EditMessage(ctx, messageID, body); err != nil {
		log.Warn().Err(err).Msg("edit failed")
		o.presenter.Notify(failure(TitleUpdateFailed))
		return Failed
	}
	o.presenter.Notify(success(TitleUpdated))
	o.refresh(ctx)
	return Done
}

// Recall withdraws a message for both participants after confirmation.
func (o *Operations) Recall(ctx context.Context, messageID string) Outcome {
	log := o.logger.With().Str("message_id", messageID).Logger()

	if !o.confirm(ctx, Dialog{
		Title:        "Delete Message",
		Text:         "Delete for everyone ?",
		ConfirmLabel: "Delete",
		CancelLabel:  "Cancel",
	}) {
		return Cancelled
	}

	if _, err := o.client.RecallMessage(ctx, messageID); err != nil {
		log.Warn().Err(err).Msg("recall failed")
		o.presenter.Notify(failure(TitleDeleteFailed))
		return Failed
	}
	o.presenter.Notify(success(TitleDeleted))
	o.refresh(ctx)
	return Done
}

// Clear removes every message between fromID and toID after confirmation.
func (o *Operations) Clear(ctx context.Context, fromID, toID string) Outcome {
	if fromID == "" || toID == "" {
		return Rejected
	}
	log := o.logger.With().Str("from", fromID).Str("to", toID).Logger()

	if !o.confirm(ctx, Dialog{
		Title:        "Clear chat ?",
		Text:         "Do you want to clear chat ?",
		ConfirmLabel: "Delete",
		CancelLabel:  "Cancel",
	}) {
		return Cancelled
	}

	if err := o.client.ClearConversation(ctx, fromID, toID); err != nil {
		log.Warn().Err(err).Msg("clear failed")
		o.presenter.Notify(failure(TitleClearFailed))
		return Failed
	}
	o.presenter.Notify(success(TitleCleared))
	o.refresh(ctx)
	return Done
}

// ValidateBody rejects bodies that are empty after trimming whitespace.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	return nil
}

func (o *Operations) confirm(ctx context.Context, d Dialog) bool {
	ok, err := o.presenter.Confirm(ctx, d)
	if err != nil {
		o.logger.Debug().Err(err).Str("dialog", d.Title).Msg("confirmation aborted")
		return false
	}
	return ok
}

func (o *Operations) refresh(ctx context.Context) {
	if o.refresher == nil {
		return
	}
	// Refresh logs its own failures.
	_ = o.refresher.Refresh(ctx)
}

func (o *Operations) notificationFor(counterpartID string) types.Notification {
	name := o.viewer.FullName()
	return types.Notification{
		FromID:      o.viewer.UserID,
		ToID:        counterpartID,
		ActionID:    o.viewer.UserID,
		Message:     name + " just messaged you",
		SenderImage: o.viewer.ProfileImage,
		SenderName:  name,
		Location:    "chat",
	}
}

func success(title string) Toast {
	return Toast{Kind: ToastSuccess, Title: title, Duration: successDuration}
}

func failure(title string) Toast {
	return Toast{Kind: ToastFailure, Title: title, Duration: failureDuration}
}
