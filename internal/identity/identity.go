package identity

import (
	"crypto/rand"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// userIDRegex defines valid user IDs: letters, digits, underscores, hyphens.
// User IDs double as push channel names and URL path segments.
var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const maxUserIDLength = 128

// GenerateMessageID generates a unique message ID using ULID.
// Format: "msg_" + ulid().
func GenerateMessageID() string {
	return "msg_" + generateULID()
}

// GenerateNotificationID generates a unique notification ID using ULID.
// Format: "ntf_" + ulid().
func GenerateNotificationID() string {
	return "ntf_" + generateULID()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a ULID string. IDs generated within the same
// millisecond are strictly increasing, which keeps store order stable for
// messages sent back to back.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// IDTimestamp extracts the creation time from a prefixed ID such as
// "msg_01HX...".
func IDTimestamp(id string) (time.Time, error) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ULID: %w", err)
	}
	ms := parsed.Time()
	if ms/1000 > uint64(math.MaxInt64) {
		return time.Time{}, fmt.Errorf("ULID timestamp %d exceeds int64 range", ms)
	}
	return time.UnixMilli(int64(ms)), nil //nolint:gosec // overflow checked above
}

// ValidateUserID validates a participant identity.
//
// Rules:
//   - Allowed characters: letters, digits, underscores (_), hyphens (-)
//   - At most 128 characters
//   - Cannot be empty
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("user ID is longer than %d characters", maxUserIDLength)
	}
	if !userIDRegex.MatchString(id) {
		return fmt.Errorf("user ID '%s' contains invalid characters; only letters, digits, underscores (_), and hyphens (-) are allowed", id)
	}
	return nil
}
