package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

const emptyRoom = "No messages yet. Be the first to say something!"

var (
	special = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	subtle  = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	authorStyle = lipgloss.NewStyle().Bold(true).Foreground(special)
	ownStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	timeStyle   = lipgloss.NewStyle().Foreground(subtle)
	mutedStyle  = lipgloss.NewStyle().Foreground(subtle).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// RenderRoom draws the room's message list. Messages by selfID are highlighted.
func RenderRoom(room string, msgs []domain.ChatMessage, selfID string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("# " + room))
	b.WriteByte('\n')

	if len(msgs) == 0 {
		b.WriteString(mutedStyle.Render(emptyRoom))
		return boxStyle.Render(b.String())
	}

	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		stamp := "--:--"
		if m.Timestamp != nil {
			stamp = m.Timestamp.Local().Format("15:04")
		}
		name := authorStyle
		if selfID != "" && m.UserID == selfID {
			name = ownStyle
		}
		b.WriteString(timeStyle.Render(stamp))
		b.WriteByte(' ')
		b.WriteString(name.Render(m.UserName))
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return boxStyle.Render(b.String())
}

// RenderError formats an error line.
func RenderError(msg string) string {
	return errorStyle.Render("! " + msg)
}
