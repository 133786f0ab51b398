package repo

import (
	"fmt"
	"os"

	"github.com/hirelane/discuss/internal/types"
)

// appendEvent mirrors a committed write into the append-only events JSONL.
// feed.Tail followers on the same machine pick it up as their push feed.
func (r *SQLite) appendEvent(event types.Event) error {
	data, err := types.Encode(event)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	return nil
}

// Publish appends an ephemeral typing event to the events JSONL. It
// writes no rows; typing never persists past the log.
func (r *SQLite) Publish(e types.Event) error {
	return r.appendEvent(e)
}
