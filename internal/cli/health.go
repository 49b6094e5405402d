package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd(o *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the puddle.farm health endpoint",
		Long:  "Check the upstream health endpoint. Exits 1 when it does not answer exactly \"OK\".",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, _, err := o.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if c.Health(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), "healthy")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "unhealthy")
			return &ExitError{Code: 1, Err: errors.New("puddle.farm is unhealthy")}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall check timeout")
	return cmd
}
