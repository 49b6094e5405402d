package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	"puddlebot/internal/tables"
)

func newPlayersCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "players",
		Short: "Manage the tracked player registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tracked players",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, _, err := o.store()
				if err != nil {
					return err
				}
				defer st.Close()
				ps, err := st.ListPlayers(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tables.Players(ps, tables.Rounded))
				return nil
			},
		},
		newPlayersAddCmd(o),
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Stop tracking a player and drop their cursors",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, _, err := o.store()
				if err != nil {
					return err
				}
				defer st.Close()
				ok, err := st.RemovePlayer(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("player %s is not tracked", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newPlayersAddCmd(o *options) *cobra.Command {
	var chars []string
	cmd := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Track a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			norm := make([]string, 0, len(chars))
			for _, c := range chars {
				code, ok := puddle.NormalizeCharacter(c)
				if !ok {
					return fmt.Errorf("unknown character %q", c)
				}
				norm = append(norm, code)
			}
			st, _, err := o.store()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.AddPlayer(cmd.Context(), storage.Player{ID: args[0], Name: args[1], Characters: norm}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s (%s)\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&chars, "char", nil, "character codes to poll (default: every character on the profile)")
	return cmd
}
