// Package render maps conversation state to what a client displays. Render
// is pure: the same state and viewer always yield the same thread.
package render

import (
	"time"

	"github.com/leonletto/chatsync/internal/session"
	"github.com/leonletto/chatsync/internal/types"
)

// Placeholders shown in place of a withdrawn message's body.
const (
	WithdrawnMine   = "you deleted this message"
	WithdrawnTheirs = "this message was deleted"
)

// Attribution says whose side of the conversation a bubble sits on.
type Attribution int

const (
	Theirs Attribution = iota
	Mine
)

func (a Attribution) String() string {
	if a == Mine {
		return "mine"
	}
	return "theirs"
}

// Bubble is one displayable message.
type Bubble struct {
	ID          string
	Attribution Attribution
	// Text is the body, or a placeholder when the message is withdrawn.
	Text      string
	SentAt    time.Time
	Withdrawn bool
	// Actionable is true when the viewer may edit or recall the message.
	Actionable bool
}

// Thread is the displayable form of a conversation. A Loading thread has no
// bubbles and must not be shown as an empty conversation.
type Thread struct {
	Loading bool
	Bubbles []Bubble
}

// Empty reports whether the thread is loaded and has no messages.
func (t Thread) Empty() bool {
	return !t.Loading && len(t.Bubbles) == 0
}

// Render builds the thread for viewerID from a session state.
func Render(state session.State, viewerID string) Thread {
	if !state.Loaded {
		return Thread{Loading: true}
	}
	bubbles := make([]Bubble, 0, len(state.Messages))
	for _, m := range state.Messages {
		bubbles = append(bubbles, BubbleFor(m, viewerID))
	}
	return Thread{Bubbles: bubbles}
}

// BubbleFor renders a single message. The body of a withdrawn message never
// reaches the bubble.
func BubbleFor(m types.Message, viewerID string) Bubble {
	b := Bubble{
		ID:        m.ID,
		SentAt:    m.SentAt,
		Withdrawn: m.Withdrawn,
	}
	if m.From == viewerID {
		b.Attribution = Mine
	}

	switch {
	case m.Withdrawn && b.Attribution == Mine:
		b.Text = WithdrawnMine
	case m.Withdrawn:
		b.Text = WithdrawnTheirs
	default:
		b.Text = m.Body
		b.Actionable = b.Attribution == Mine
	}
	return b
}
