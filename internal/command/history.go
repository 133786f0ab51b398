package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hirelane/discuss/internal/types"
)

// NewHistoryCmd creates the history command: print a page of a job's
// discussion, oldest first.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent messages in a job's discussion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			page, err := ctx.Repo.FetchPage(cmd.Context(), ctx.Channel, nil, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}

			for _, m := range page {
				printMessage(cmd, m)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 50, "messages to show")
	cmd.Flags().Bool("json", false, "output in JSON format")
	return cmd
}

func printMessage(cmd *cobra.Command, m types.Message) {
	when := time.UnixMilli(m.CreatedAt).Format("Jan 2 15:04")
	body := m.Body
	if m.State == types.StateDeleted {
		body = "(message removed)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %s", when, m.AuthorName, body)
	if m.Attachment != nil {
		fmt.Fprintf(cmd.OutOrStdout(), " [%s, %s]", m.Attachment.Name,
			humanize.Bytes(uint64(m.Attachment.ByteSize)))
	}
	if m.EditedAt != nil && m.State == types.StateEdited {
		fmt.Fprint(cmd.OutOrStdout(), " (edited)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
}
