package mutation

import (
	"context"
	"time"
)

// Dialog is a yes/no confirmation.
type Dialog struct {
	Title        string
	Text         string
	ConfirmLabel string
	CancelLabel  string
}

// PromptRequest asks for a line of text in a prefilled, editable field.
// Validate, if set, is checked before the value is accepted; its error text
// is shown to the user and the prompt stays open.
type PromptRequest struct {
	Title        string
	Initial      string
	ConfirmLabel string
	CancelLabel  string
	Validate     func(string) error
}

// ToastKind distinguishes success from failure acknowledgments.
type ToastKind int

const (
	ToastSuccess ToastKind = iota
	ToastFailure
)

func (k ToastKind) String() string {
	if k == ToastFailure {
		return "failure"
	}
	return "success"
}

// Toast is a short-lived acknowledgment.
type Toast struct {
	Kind     ToastKind
	Title    string
	Duration time.Duration
}

// Presenter is the presentation side of a mutation: it asks the user for
// confirmation or input and shows acknowledgments. Confirm and Prompt
// block until the user answers; ok=false means the user cancelled.
type Presenter interface {
	Confirm(ctx context.Context, d Dialog) (bool, error)
	Prompt(ctx context.Context, req PromptRequest) (value string, ok bool, err error)
	Notify(t Toast)
}

// Nop accepts every dialog, returns prompts unchanged and drops toasts.
// It is meant for non-interactive callers that already decided.
type Nop struct{}

func (Nop) Confirm(context.Context, Dialog) (bool, error) { return true, nil }

func (Nop) Prompt(_ context.Context, req PromptRequest) (string, bool, error) {
	return req.Initial, true, nil
}

func (Nop) Notify(Toast) {}
