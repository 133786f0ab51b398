package command

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hirelane/discuss/internal/tui"
)

// NewTUICmd creates the tui command: an interactive view of one job's
// discussion channel.
func NewTUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open a job's discussion interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer ctx.Close()

			sess, err := ctx.NewSession()
			if err != nil {
				return err
			}
			if err := sess.Run(cmd.Context()); err != nil {
				return err
			}
			defer sess.Close()

			model := tui.NewModel(sess, ctx.Self, ctx.Channel)
			program := tea.NewProgram(model, tea.WithAltScreen())
			model.Attach(program)

			_, err = program.Run()
			return err
		},
	}
	return cmd
}
