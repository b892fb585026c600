// Package terminal presents confirmations, prompts and acknowledgments on
// a line-oriented terminal.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/leonletto/chatsync/internal/mutation"
)

// ErrNotInteractive is returned when a confirmation is needed but input is
// not a terminal and --yes was not given.
var ErrNotInteractive = errors.New("confirmation required: stdin is not a terminal (use --yes)")

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	titleStyle   = lipgloss.NewStyle().Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Presenter implements mutation.Presenter over a reader and a writer. The
// same reader serves command input through ReadLine, so prompts and the
// command loop never compete for buffered bytes.
type Presenter struct {
	in          *bufio.Reader
	out         io.Writer
	assumeYes   bool
	interactive bool

	mu sync.Mutex
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithAssumeYes answers every confirmation with yes and keeps every
// prefilled prompt value.
func WithAssumeYes(yes bool) Option {
	return func(p *Presenter) {
		p.assumeYes = yes
	}
}

// WithInteractive overrides terminal detection.
func WithInteractive(interactive bool) Option {
	return func(p *Presenter) {
		p.interactive = interactive
	}
}

// New creates a presenter. Input is treated as interactive when in is a
// terminal.
func New(in io.Reader, out io.Writer, opts ...Option) *Presenter {
	p := &Presenter{
		in:  bufio.NewReader(in),
		out: out,
	}
	if f, ok := in.(*os.File); ok {
		p.interactive = IsInteractive(f)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ mutation.Presenter = (*Presenter)(nil)

// ReadLine reads one line of input without its trailing newline. It
// returns io.EOF at end of input.
func (p *Presenter) ReadLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Confirm asks a yes/no question. Anything but an explicit yes declines.
func (p *Presenter) Confirm(ctx context.Context, d mutation.Dialog) (bool, error) {
	if p.assumeYes {
		return true, nil
	}
	if !p.interactive {
		return false, ErrNotInteractive
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	confirm := d.ConfirmLabel
	if confirm == "" {
		confirm = "Yes"
	}
	p.printf("%s\n", titleStyle.Render(d.Title))
	if d.Text != "" {
		p.printf("%s\n", d.Text)
	}
	p.printf("%s ", hintStyle.Render(fmt.Sprintf("%s? [y/N]:", confirm)))

	answer, err := p.ReadLine()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", strings.ToLower(confirm):
		return true, nil
	}
	return false, nil
}

// Prompt asks for a value prefilled with req.Initial. An empty answer keeps
// the initial value; a single "." cancels. Values failing req.Validate are
// reported and asked for again.
func (p *Presenter) Prompt(ctx context.Context, req mutation.PromptRequest) (string, bool, error) {
	if p.assumeYes {
		return req.Initial, true, nil
	}
	if !p.interactive {
		return "", false, ErrNotInteractive
	}

	p.printf("%s\n", titleStyle.Render(req.Title))
	p.printf("%s\n", hintStyle.Render(fmt.Sprintf("current: %s", req.Initial)))
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		p.printf("%s ", hintStyle.Render("new text (enter keeps current, . cancels):"))

		line, err := p.ReadLine()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}

		value := line
		switch strings.TrimSpace(line) {
		case ".":
			return "", false, nil
		case "":
			// Only an empty line keeps the current text.
			if line == "" {
				value = req.Initial
			}
		}
		if req.Validate != nil {
			if verr := req.Validate(value); verr != nil {
				p.printf("%s\n", failureStyle.Render(verr.Error()))
				continue
			}
		}
		return value, true, nil
	}
}

// Notify prints an acknowledgment line.
func (p *Presenter) Notify(t mutation.Toast) {
	if t.Kind == mutation.ToastFailure {
		p.printf("%s\n", failureStyle.Render("✗ "+t.Title))
		return
	}
	p.printf("%s\n", successStyle.Render("✓ "+t.Title))
}

// Printf writes to the presenter's output, serialized with acknowledgments.
func (p *Presenter) Printf(format string, args ...any) {
	p.printf(format, args...)
}

func (p *Presenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}
