package chatview

import (
	"context"

	"github.com/leonletto/chatsync/internal/mutation"
	"github.com/leonletto/chatsync/internal/render"
	"github.com/leonletto/chatsync/internal/types"
)

// Send posts the draft to the current counterpart and clears the draft if
// the server accepted it.
func (v *View) Send(ctx context.Context) mutation.Outcome {
	ctx, done, err := v.begin(ctx)
	if err != nil {
		return mutation.Cancelled
	}
	defer done()

	v.mu.Lock()
	draft := v.draft
	toName := ""
	if v.profile.Status == types.ProfileFound {
		toName = v.profile.Profile.FullName()
	}
	v.mu.Unlock()

	outcome := v.ops.Send(ctx, v.controller.CounterpartID(), toName, draft)
	if outcome == mutation.Done {
		v.mu.Lock()
		if v.draft == draft {
			v.draft = ""
		}
		v.mu.Unlock()
		v.changed()
	}
	return outcome
}

// Edit prompts for a new body for one of the viewer's messages.
func (v *View) Edit(ctx context.Context, messageID string) mutation.Outcome {
	b, ok := v.actionable(messageID)
	if !ok {
		return mutation.Rejected
	}
	ctx, done, err := v.begin(ctx)
	if err != nil {
		return mutation.Cancelled
	}
	defer done()
	return v.ops.Edit(ctx, messageID, b.Text)
}

// Recall withdraws one of the viewer's messages for everyone.
func (v *View) Recall(ctx context.Context, messageID string) mutation.Outcome {
	if _, ok := v.actionable(messageID); !ok {
		return mutation.Rejected
	}
	ctx, done, err := v.begin(ctx)
	if err != nil {
		return mutation.Cancelled
	}
	defer done()
	return v.ops.Recall(ctx, messageID)
}

// Clear removes the whole conversation and collapses the menu.
func (v *View) Clear(ctx context.Context) mutation.Outcome {
	ctx, done, err := v.begin(ctx)
	if err != nil {
		return mutation.Cancelled
	}
	defer done()

	outcome := v.ops.Clear(ctx, v.viewer.UserID, v.controller.CounterpartID())
	if outcome == mutation.Done {
		v.mu.Lock()
		v.menuOpen = false
		v.mu.Unlock()
		v.changed()
	}
	return outcome
}

// actionable finds messageID among the viewer's own live messages.
func (v *View) actionable(messageID string) (render.Bubble, bool) {
	for _, b := range v.Snapshot().Thread.Bubbles {
		if b.ID == messageID {
			return b, b.Actionable
		}
	}
	return render.Bubble{}, false
}
