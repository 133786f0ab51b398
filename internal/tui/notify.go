package tui

import (
	"github.com/gen2brain/beeep"

	"github.com/hirelane/discuss/internal/types"
)

// maybeNotify raises a desktop notification for a peer's message that
// arrived while the user is scrolled away from the tail. Failures are
// ignored; notifications are best effort.
func (m *Model) maybeNotify(msg types.Message) {
	if msg.AuthorID == m.self.ID || msg.State != types.StateConfirmed {
		return
	}
	if m.viewport.AtBottom() {
		return
	}
	author := msg.AuthorName
	if author == "" {
		author = msg.AuthorID
	}
	_ = beeep.Notify(author, truncate(msg.Body, 80), "")
}
