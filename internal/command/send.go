package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hirelane/discuss/internal/types"
)

// NewSendCmd creates the send command: a one-shot post to a job's channel.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post a message to a job's discussion",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			replyTo, _ := cmd.Flags().GetString("reply-to")
			attach, _ := cmd.Flags().GetString("attach")

			text := ""
			if len(args) > 0 {
				text = args[0]
			}

			draft := types.Draft{Body: text}
			if replyTo != "" {
				draft.ReplyTo = &replyTo
			}
			if attach != "" {
				uploaded, err := ctx.Blob.Upload(cmd.Context(), attach)
				if err != nil {
					return err
				}
				draft.Attachment = uploaded
			}

			created, err := ctx.Repo.CreateMessage(cmd.Context(), ctx.Channel, draft, ctx.Self, "")
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", created.ID,
				time.UnixMilli(created.CreatedAt).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().String("reply-to", "", "message id to reply to")
	cmd.Flags().String("attach", "", "file to attach")
	return cmd
}
