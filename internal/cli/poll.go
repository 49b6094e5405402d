package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"puddlebot/internal/announcer"
	"puddlebot/internal/app"
	"puddlebot/internal/config"
	"puddlebot/internal/eventbus"
	"puddlebot/internal/notifier"
	"puddlebot/internal/storage"
	"puddlebot/internal/tables"
	"puddlebot/internal/tracker"
	telegram "puddlebot/internal/transport/telegram"
	logx "puddlebot/pkg/logx"
)

func newPollCmd(o *options) *cobra.Command {
	var (
		dryRun bool
		memory bool
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run exactly one poll cycle",
		Long: `Run one poll cycle over every tracked player and exit.

With --dry-run new matches are printed instead of sent to the chat. Stored
cursors are read but never written, so the running bot still announces
everything a dry run shows. --memory ignores stored state entirely, which
makes every player take a fresh baseline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := o.load()
			if err != nil {
				return err
			}
			client, err := app.NewClient(cfg, log)
			if err != nil {
				return err
			}
			defer client.Close()

			var st storage.Store
			if memory {
				st = storage.NewMemory()
			} else if st, err = app.OpenStore(cfg, log); err != nil {
				return err
			}
			defer st.Close()
			var cursors tracker.StateStore = st
			if dryRun {
				cursors = readOnlyCursors{st}
			}
			if _, err := storage.SeedPlayers(cmd.Context(), st, app.Seeds(cfg)); err != nil {
				return err
			}

			var (
				ann  tracker.Announcer
				done = func() {}
			)
			if dryRun {
				loc, err := announcer.LoadLocation(cfg.Announcer.Timezone)
				if err != nil {
					return err
				}
				ann = announcer.NewStdout(cmd.OutOrStdout(), loc)
			} else {
				ann, done, err = chatAnnouncer(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
			}

			trk, err := tracker.New(app.TrackerConfig(cfg), tracker.Deps{
				Fetcher:   client,
				Store:     cursors,
				Players:   st,
				Announcer: ann,
				Logger:    log.With(logx.String("comp", "tracker")),
			})
			if err != nil {
				done()
				return err
			}
			sum, err := trk.RunCycle(cmd.Context())
			done()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tables.Summary(trk.State(), sum, true, tables.Rounded))
			if len(sum.Failed) > 0 {
				return &ExitError{Code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print new matches instead of sending them")
	cmd.Flags().BoolVar(&memory, "memory", false, "use an in-memory store (every player takes a baseline)")
	return cmd
}

// readOnlyCursors drops cursor writes so a dry run leaves stored state as
// the running bot will find it.
type readOnlyCursors struct {
	storage.Store
}

func (readOnlyCursors) PutCursor(context.Context, storage.CursorKey, storage.Cursor) error {
	return nil
}

// chatAnnouncer builds a send-only Telegram pipeline. done drains the queue
// and must be called once the cycle has finished.
func chatAnnouncer(ctx context.Context, cfg *config.Config, log logx.Logger) (tracker.Announcer, func(), error) {
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, nil, err
	}
	nc, err := app.NotifierConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	notif := notifier.New(nc, ad, log, eventbus.New())
	notif.Start(ctx)

	ann, err := announcer.New(app.AnnouncerConfig(cfg), notif, log)
	if err != nil {
		notif.Stop(context.Background())
		return nil, nil, err
	}
	done := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		notif.Stop(sctx)
	}
	return ann, done, nil
}
