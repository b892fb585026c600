package types

import "time"

// Message is one record of a two-party conversation as returned by the store.
// Everything except Body and Withdrawn is fixed once the store has accepted it.
type Message struct {
	ID        string    `json:"_id"`
	From      string    `json:"from_id"`
	To        string    `json:"to_id"`
	Body      string    `json:"message"`
	SentAt    time.Time `json:"time"`
	Withdrawn bool      `json:"unsend"` // recalled for everyone; Body must not be shown
}

// Involves reports whether the message was exchanged between a and b,
// in either direction.
func (m Message) Involves(a, b string) bool {
	return (m.From == a && m.To == b) || (m.From == b && m.To == a)
}

// Profile is a user's public profile.
type Profile struct {
	UserID       string `json:"userId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// FullName returns "First Last", trimmed when either part is missing.
func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// ProfileStatus is the resolution state of a profile lookup.
type ProfileStatus int

const (
	// ProfileUnresolved means the lookup has not completed yet.
	ProfileUnresolved ProfileStatus = iota
	// ProfileFound means the lookup returned a profile.
	ProfileFound
	// ProfileNotFound means the store has no such user.
	ProfileNotFound
)

// String returns the string representation of a profile status.
func (s ProfileStatus) String() string {
	switch s {
	case ProfileFound:
		return "found"
	case ProfileNotFound:
		return "not_found"
	default:
		return "unresolved"
	}
}

// ProfileState is the tri-state result of looking up a counterpart.
// Profile is only meaningful when Status is ProfileFound.
type ProfileState struct {
	Status  ProfileStatus
	Profile Profile
}

// Notification is the activity record raised after a message is sent.
type Notification struct {
	ID          string    `json:"_id,omitempty"`
	FromID      string    `json:"fromId"`
	ToID        string    `json:"toId"`
	ActionID    string    `json:"actionId"`
	Message     string    `json:"message"`
	SenderImage string    `json:"senderImage,omitempty"`
	SenderName  string    `json:"senderName"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// PushEvent is the frame delivered on a push channel. Data is opaque to
// subscribers; its only meaning is "resync".
type PushEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
