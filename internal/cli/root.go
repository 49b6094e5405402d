// Package cli builds the puddlebot command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"puddlebot/internal/app"
	"puddlebot/internal/config"
	"puddlebot/internal/puddle"
	"puddlebot/internal/storage"
	logx "puddlebot/pkg/logx"
)

const defaultConfigPath = "./config.json"

// ExitError carries a process exit code through cobra.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type options struct {
	configPath string
}

// NewRoot returns the root command. Without a subcommand it runs the bot.
func NewRoot() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "puddlebot",
		Short:         "Guilty Gear Strive match tracker for puddle.farm",
		Long:          "puddlebot polls puddle.farm for new matches of tracked players and announces them to a Telegram chat.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), o)
		},
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", defaultConfigPath, "path to config file (JSON or YAML)")

	root.AddCommand(
		newRunCmd(o),
		newPollCmd(o),
		newHealthCmd(o),
		newPlayersCmd(o),
		newCursorCmd(o),
		newTopCmd(o),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRoot()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		if ee.Err != nil {
			fmt.Fprintln(os.Stderr, "error:", ee.Err)
		}
		return ee.Code
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}

func (o *options) load() (*config.Config, logx.Logger, error) {
	cfg, err := config.NewManager(o.configPath).Load()
	if err != nil {
		return nil, logx.Logger{}, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	return cfg, logx.NewConsole(cfg.Logging.Level), nil
}

func (o *options) client() (*puddle.Client, logx.Logger, *config.Config, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, log, nil, err
	}
	c, err := app.NewClient(cfg, log)
	return c, log, cfg, err
}

func (o *options) store() (storage.Store, *config.Config, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	st, err := app.OpenStore(cfg, log)
	return st, cfg, err
}
