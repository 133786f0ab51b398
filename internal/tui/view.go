package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hirelane/discuss/internal/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	authorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	typingStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
)

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	title := fmt.Sprintf("%s (%d unread)", m.channel, m.session.UnreadCount())
	b.WriteString(titleStyle.Render(title) + "\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.typingLine() + "\n")
	b.WriteString(m.input.View() + "\n")
	b.WriteString(metaStyle.Render(m.statusLine()))
	return b.String()
}

func (m *Model) statusLine() string {
	if m.status != "" {
		return m.status
	}
	if m.session.HasMore() {
		return "pgup at top loads older history"
	}
	return ""
}

func (m *Model) typingLine() string {
	if len(m.typing) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.typing))
	for _, sig := range m.typing {
		name := sig.DisplayName
		if name == "" {
			name = sig.UserID
		}
		names = append(names, name)
	}
	suffix := " is typing..."
	if len(names) > 1 {
		suffix = " are typing..."
	}
	return typingStyle.Render(strings.Join(names, ", ") + suffix)
}

func (m *Model) renderMessages() string {
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.formatMessage(msg))
	}
	return b.String()
}

func (m *Model) formatMessage(msg types.Message) string {
	author := msg.AuthorName
	if author == "" {
		author = msg.AuthorID
	}
	when := time.UnixMilli(msg.CreatedAt).Format("15:04")

	var b strings.Builder
	b.WriteString(metaStyle.Render(when) + " " + authorStyle.Render(author) + " ")
	b.WriteString(metaStyle.Render("#" + shortID(msg)))

	if msg.ReplyTo != nil {
		replyAuthor, replyBody, ok := m.session.ReplyPreview(*msg.ReplyTo)
		preview := replyBody
		if ok && replyAuthor != "" {
			preview = replyAuthor + ": " + truncate(replyBody, 40)
		}
		b.WriteString("\n  " + metaStyle.Render("↳ "+preview))
	}

	switch msg.State {
	case types.StateDeleted:
		b.WriteString("\n  " + metaStyle.Render("(message removed)"))
	case types.StatePending:
		b.WriteString("\n  " + msg.Body + " " + pendingStyle.Render("(sending)"))
	case types.StateFailed:
		b.WriteString("\n  " + msg.Body + " " + failedStyle.Render("(failed: "+msg.FailReason+", /retry "+shortID(msg)+")"))
	default:
		b.WriteString("\n  " + msg.Body)
		if msg.EditedAt != nil && msg.State == types.StateEdited {
			b.WriteString(" " + metaStyle.Render("(edited)"))
		}
	}

	if msg.Attachment != nil {
		b.WriteString("\n  " + metaStyle.Render(fmt.Sprintf("📎 %s (%s)",
			msg.Attachment.Name, humanize.Bytes(uint64(msg.Attachment.ByteSize)))))
	}

	if line := reactionLine(msg); line != "" {
		b.WriteString("\n  " + line)
	}
	b.WriteString("\n")
	return b.String()
}

func reactionLine(msg types.Message) string {
	if len(msg.Reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(msg.Reactions))
	for emoji, entries := range msg.Reactions {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, len(entries)))
	}
	sort.Strings(parts)
	return metaStyle.Render(strings.Join(parts, "  "))
}

// shortID shows the tail of the id, enough to address in slash commands.
func shortID(msg types.Message) string {
	id := msg.ID
	if msg.State == types.StatePending || msg.State == types.StateFailed {
		id = msg.Token
	}
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
