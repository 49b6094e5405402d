package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"puddlebot/internal/puddle"
	"puddlebot/internal/tables"
)

func newTopCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top [char]",
		Short: "Print the global or per-character leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var char string
			if len(args) == 1 {
				c, ok := puddle.NormalizeCharacter(args[0])
				if !ok {
					return fmt.Errorf("unknown character %q", args[0])
				}
				char = c
			}
			c, _, _, err := o.client()
			if err != nil {
				return err
			}
			defer c.Close()

			var lb *puddle.Leaderboard
			if char == "" {
				lb, err = c.Top(cmd.Context())
			} else {
				lb, err = c.TopForCharacter(cmd.Context(), char)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tables.Leaderboard(*lb, limit, tables.Rounded))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows to print (0 for all)")
	return cmd
}
