package command

import (
	"github.com/spf13/cobra"

	"github.com/hirelane/discuss/internal/feed"
	"github.com/hirelane/discuss/internal/relay"
	"github.com/hirelane/discuss/internal/repo"
)

// NewServeCmd creates the serve command: run the websocket relay that fans
// push events out to remote clients.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the discussion relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")

			// Forward this host's repository events to remote subscribers.
			tail := feed.NewTail(repo.EventsPath(cfg.DBPath()))
			defer tail.Close()

			return relay.NewServer(addr, tail).Run(cmd.Context())
		},
	}

	cmd.Flags().String("addr", ":7420", "listen address")
	return cmd
}
