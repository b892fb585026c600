package identity_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonletto/chatsync/internal/identity"
)

func TestGenerateMessageID(t *testing.T) {
	id := identity.GenerateMessageID()
	require.True(t, strings.HasPrefix(id, "msg_"), "got %s", id)
	require.Len(t, id, len("msg_")+26)
}

func TestGenerateNotificationID(t *testing.T) {
	id := identity.GenerateNotificationID()
	require.True(t, strings.HasPrefix(id, "ntf_"), "got %s", id)
}

func TestGenerateMessageID_MonotonicUnderConcurrency(t *testing.T) {
	const n = 200
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = identity.GenerateMessageID()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate ID %s", id)
		seen[id] = true
	}

	// Sequential IDs sort in generation order.
	a := identity.GenerateMessageID()
	b := identity.GenerateMessageID()
	assert.Less(t, a, b)
}

func TestIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := identity.GenerateMessageID()
	ts, err := identity.IDTimestamp(id)
	require.NoError(t, err)
	assert.True(t, ts.After(before), "timestamp %v should be after %v", ts, before)

	_, err = identity.IDTimestamp("msg_not-a-ulid")
	require.Error(t, err)
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "u1", false},
		{"mixed case", "UserTwo", false},
		{"hyphen and underscore", "user_2-b", false},
		{"mongo style", "65a1f0c2e4b0a1b2c3d4e5f6", false},
		{"empty", "", true},
		{"space", "user 2", true},
		{"slash", "u1/u2", true},
		{"dot", "u.1", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identity.ValidateUserID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
