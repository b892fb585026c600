package terminal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonletto/chatsync/internal/mutation"
)

var recallDialog = mutation.Dialog{Title: "Delete Message", Text: "Delete for everyone ?", ConfirmLabel: "Delete", CancelLabel: "Cancel"}

func interactive(input string) (*Presenter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return New(strings.NewReader(input), out, WithInteractive(true)), out
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"delete\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		p, out := interactive(tt.input)
		ok, err := p.Confirm(t.Context(), recallDialog)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, ok, "input %q", tt.input)
		assert.Contains(t, out.String(), "Delete for everyone ?")
	}
}

func TestConfirm_NonInteractive(t *testing.T) {
	p := New(strings.NewReader("y\n"), &bytes.Buffer{}, WithInteractive(false))
	_, err := p.Confirm(t.Context(), recallDialog)
	assert.ErrorIs(t, err, ErrNotInteractive)

	p = New(strings.NewReader(""), &bytes.Buffer{}, WithInteractive(false), WithAssumeYes(true))
	ok, err := p.Confirm(t.Context(), recallDialog)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrompt(t *testing.T) {
	req := mutation.PromptRequest{Title: "Edit message", Initial: "old text", Validate: mutation.ValidateBody}

	t.Run("new value", func(t *testing.T) {
		p, _ := interactive("new text\n")
		v, ok, err := p.Prompt(t.Context(), req)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "new text", v)
	})

	t.Run("enter keeps current", func(t *testing.T) {
		p, _ := interactive("\n")
		v, ok, err := p.Prompt(t.Context(), req)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "old text", v)
	})

	t.Run("dot cancels", func(t *testing.T) {
		p, _ := interactive(".\n")
		_, ok, err := p.Prompt(t.Context(), req)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("blank is re-asked", func(t *testing.T) {
		p, out := interactive("   \nfixed\n")
		v, ok, err := p.Prompt(t.Context(), req)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "fixed", v)
		assert.Contains(t, out.String(), mutation.MessageRequired)
	})

	t.Run("eof cancels", func(t *testing.T) {
		p, _ := interactive("   \n")
		_, ok, err := p.Prompt(t.Context(), req)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestNotify(t *testing.T) {
	p, out := interactive("")
	p.Notify(mutation.Toast{Kind: mutation.ToastSuccess, Title: "Message sent"})
	p.Notify(mutation.Toast{Kind: mutation.ToastFailure, Title: "Can't clear chat"})

	assert.Contains(t, out.String(), "Message sent")
	assert.Contains(t, out.String(), "Can't clear chat")
}

func TestReadLine(t *testing.T) {
	p, _ := interactive("first\r\nsecond")
	l, err := p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", l)
	l, err = p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", l)
	_, err = p.ReadLine()
	assert.Error(t, err)
}
