package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hirelane/discuss/internal/blob"
	"github.com/hirelane/discuss/internal/config"
	"github.com/hirelane/discuss/internal/core"
	"github.com/hirelane/discuss/internal/feed"
	"github.com/hirelane/discuss/internal/repo"
	"github.com/hirelane/discuss/internal/session"
	"github.com/hirelane/discuss/internal/types"
)

// Context carries the collaborators a command wires up: config, identity,
// channel, repository, feed, and blob store.
type Context struct {
	Config  *config.Config
	Self    types.User
	Channel string
	Repo    *repo.SQLite
	Feed    feed.Feed
	Publish feed.Publisher
	Blob    blob.Store

	// Socket and LocalTail are set in relay mode: the tail republishes this
	// process's repository events to the relay so remote subscribers see
	// local writes.
	Socket    *feed.Socket
	LocalTail *feed.Tail

	closers []func()
}

// GetContext resolves the shared command context from flags and config.
func GetContext(cmd *cobra.Command) (*Context, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.User.ID == "" {
		return nil, fmt.Errorf("no user configured; set user.id and user.name in %s", config.DefaultPath())
	}

	jobID, _ := cmd.Flags().GetString("job")
	if jobID == "" {
		return nil, fmt.Errorf("--job is required")
	}

	repository, err := repo.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Config:  cfg,
		Channel: core.ChannelForJob(jobID),
		Repo:    repository,
		closers: []func(){func() { _ = repository.Close() }},
	}
	ctx.Self = types.User{ID: cfg.User.ID, DisplayName: cfg.User.Name, Role: cfg.User.Role}

	uploads, err := blob.NewDir(cfg.UploadsDir(), cfg.Blob.MaxBytes, cfg.Blob.AllowedTypes)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	ctx.Blob = uploads

	tail := feed.NewTail(repo.EventsPath(cfg.DBPath()))
	ctx.closers = append(ctx.closers, tail.Close)
	if cfg.Relay != "" {
		socket := &feed.Socket{BaseURL: cfg.Relay}
		ctx.Feed = socket
		ctx.Publish = socket
		ctx.Socket = socket
		ctx.LocalTail = tail
	} else {
		ctx.Feed = tail
		ctx.Publish = repository
	}

	return ctx, nil
}

// NewSession builds a session over the context's collaborators. In relay
// mode the session resyncs after every reconnect, and local repository
// writes are forwarded up to the relay.
func (c *Context) NewSession() (*session.Session, error) {
	sess, err := session.New(session.Options{
		Channel:   c.Channel,
		Self:      c.Self,
		Repo:      c.Repo,
		Feed:      c.Feed,
		Blob:      c.Blob,
		Publisher: c.Publish,
		PageSize:  c.Config.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if c.Socket != nil {
		c.Socket.OnReconnect = func() {
			if err := sess.Resync(); err != nil {
				slog.Warn("resync after reconnect failed", "channel", c.Channel, "error", err)
			}
		}
		unsub, err := c.LocalTail.Subscribe(context.Background(), c.Channel, func(e types.Event) {
			_ = c.Socket.Publish(e)
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, unsub)
	}
	return sess, nil
}

// Close releases everything the context opened.
func (c *Context) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
