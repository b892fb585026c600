// Package store is the server of record for profiles, messages, and
// notifications, backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leonletto/chatsync/internal/identity"
	"github.com/leonletto/chatsync/internal/schema"
	"github.com/leonletto/chatsync/internal/types"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout keeps lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store exposes only context-aware queries so the per-request timeout of
// the HTTP server reaches SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := schema.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := schema.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertProfile inserts or replaces a profile.
func (s *Store) UpsertProfile(ctx context.Context, p types.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, first_name, last_name, email, profile_image)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			profile_image = excluded.profile_image`,
		p.UserID, p.FirstName, p.LastName, p.Email, p.ProfileImage)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// GetProfile returns the profile for userID or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (types.Profile, error) {
	var p types.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, first_name, last_name, email, profile_image
		FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.ProfileImage)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Profile{}, ErrNotFound
	}
	if err != nil {
		return types.Profile{}, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return p, nil
}

// ListConversation returns every message exchanged between a and b in
// send order.
func (s *Store) ListConversation(ctx context.Context, a, b string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, from_id, to_id, body, sent_at, withdrawn
		FROM messages
		WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)
		ORDER BY sent_at ASC, message_id ASC`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]types.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation: %w", err)
	}
	return messages, nil
}

// CreateMessage stores a new message from one participant to the other.
func (s *Store) CreateMessage(ctx context.Context, from, to, toName, body string) (types.Message, error) {
	m := types.Message{
		ID:     identity.GenerateMessageID(),
		From:   from,
		To:     to,
		Body:   body,
		SentAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, from_id, to_id, to_name, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.From, m.To, toName, m.Body, m.SentAt.Format(timeLayout))
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// GetMessage returns a message by ID or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (types.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, from_id, to_id, body, sent_at, withdrawn
		FROM messages WHERE message_id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, ErrNotFound
	}
	return m, err
}

// EditMessage replaces the body of a message.
func (s *Store) EditMessage(ctx context.Context, id, body string) (types.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET body = ?, updated_at = ? WHERE message_id = ?`,
		body, s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return types.Message{}, fmt.Errorf("edit message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Message{}, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// WithdrawMessage flags a message as recalled for everyone. The row is
// kept so both participants see the placeholder.
func (s *Store) WithdrawMessage(ctx context.Context, id string) (types.Message, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET withdrawn = 1 WHERE message_id = ?`, id)
	if err != nil {
		return types.Message{}, fmt.Errorf("withdraw message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Message{}, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// ClearConversation deletes every message between a and b and returns how
// many were removed.
func (s *Store) ClearConversation(ctx context.Context, a, b string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)`, a, b, b, a)
	if err != nil {
		return 0, fmt.Errorf("clear conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateNotification stores an activity notification.
func (s *Store) CreateNotification(ctx context.Context, n types.Notification) (types.Notification, error) {
	n.ID = identity.GenerateNotificationID()
	n.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (notification_id, from_id, to_id, action_id, message, sender_image, sender_name, location, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.FromID, n.ToID, n.ActionID, n.Message, n.SenderImage, n.SenderName, n.Location,
		n.CreatedAt.Format(timeLayout))
	if err != nil {
		return types.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns notifications addressed to userID, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]types.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT notification_id, from_id, to_id, action_id, message, sender_image, sender_name, location, created_at
		FROM notifications WHERE to_id = ?
		ORDER BY created_at DESC, notification_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.Notification, 0)
	for rows.Next() {
		var n types.Notification
		var created string
		if err := rows.Scan(&n.ID, &n.FromID, &n.ToID, &n.ActionID, &n.Message, &n.SenderImage, &n.SenderName, &n.Location, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if n.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse notification time %q: %w", created, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (types.Message, error) {
	var m types.Message
	var sentAt string
	var withdrawn int
	if err := row.Scan(&m.ID, &m.From, &m.To, &m.Body, &sentAt, &withdrawn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, err
		}
		return types.Message{}, fmt.Errorf("scan message: %w", err)
	}
	t, err := time.Parse(timeLayout, sentAt)
	if err != nil {
		return types.Message{}, fmt.Errorf("parse message time %q: %w", sentAt, err)
	}
	m.SentAt = t
	m.Withdrawn = withdrawn != 0
	return m, nil
}
