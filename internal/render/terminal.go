package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the colors used by the terminal formatter, as ANSI 256-color
// codes.
type Theme struct {
	Mine      lipgloss.Color
	Theirs    lipgloss.Color
	Withdrawn lipgloss.Color
	Meta      lipgloss.Color
}

// DefaultTheme suits dark terminals.
var DefaultTheme = Theme{
	Mine:      lipgloss.Color("39"),
	Theirs:    lipgloss.Color("252"),
	Withdrawn: lipgloss.Color("242"),
	Meta:      lipgloss.Color("244"),
}

// Formatter renders threads as text for a terminal of a given width.
type Formatter struct {
	Width int
	Theme Theme
	// ShowIDs prefixes each actionable bubble with its message ID so it can
	// be referenced by edit and recall commands.
	ShowIDs bool
}

// NewFormatter returns a formatter with the default theme.
func NewFormatter(width int) *Formatter {
	if width <= 0 {
		width = 80
	}
	return &Formatter{Width: width, Theme: DefaultTheme}
}

// Format renders the whole thread, one bubble per block. Own messages are
// right-aligned.
func (f *Formatter) Format(t Thread, counterpartName string) string {
	if t.Loading {
		return lipgloss.NewStyle().Foreground(f.Theme.Meta).Render("loading…")
	}
	if len(t.Bubbles) == 0 {
		return lipgloss.NewStyle().Foreground(f.Theme.Meta).Render("no messages yet")
	}

	var sb strings.Builder
	for i, b := range t.Bubbles {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.FormatBubble(b, counterpartName))
	}
	return sb.String()
}

// FormatBubble renders one bubble with its timestamp line.
func (f *Formatter) FormatBubble(b Bubble, counterpartName string) string {
	bubbleWidth := f.Width * 2 / 3
	if bubbleWidth < 10 {
		bubbleWidth = f.Width
	}

	textStyle := lipgloss.NewStyle().Width(bubbleWidth)
	switch {
	case b.Withdrawn:
		textStyle = textStyle.Foreground(f.Theme.Withdrawn).Italic(true)
	case b.Attribution == Mine:
		textStyle = textStyle.Foreground(f.Theme.Mine)
	default:
		textStyle = textStyle.Foreground(f.Theme.Theirs)
	}

	who := counterpartName
	if b.Attribution == Mine {
		who = "you"
	}
	meta := who
	if !b.SentAt.IsZero() {
		meta = fmt.Sprintf("%s · %s", who, b.SentAt.Local().Format("Jan 2 15:04"))
	}
	if f.ShowIDs && b.Actionable {
		meta = fmt.Sprintf("[%s] %s", b.ID, meta)
	}
	metaStyle := lipgloss.NewStyle().Foreground(f.Theme.Meta).Width(bubbleWidth)

	align := lipgloss.Left
	if b.Attribution == Mine {
		align = lipgloss.Right
		textStyle = textStyle.Align(lipgloss.Right)
		metaStyle = metaStyle.Align(lipgloss.Right)
	}

	block := lipgloss.JoinVertical(align, textStyle.Render(b.Text), metaStyle.Render(meta))
	return lipgloss.PlaceHorizontal(f.Width, align, block)
}
