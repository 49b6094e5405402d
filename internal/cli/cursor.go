package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"puddlebot/internal/puddle"
)

func newCursorCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset stored poll cursors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <player> [char]",
		Short: "Forget cursors so the next poll takes a new baseline",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := ""
			if len(args) == 2 {
				c, ok := puddle.NormalizeCharacter(args[1])
				if !ok {
					return fmt.Errorf("unknown character %q", args[1])
				}
				scope = c
			}
			st, _, err := o.store()
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.ResetCursors(cmd.Context(), args[0], scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d cursor(s) for %s\n", n, args[0])
			return nil
		},
	})
	return cmd
}
