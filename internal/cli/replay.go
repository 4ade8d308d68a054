package cli

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spiralbot/engine"
	"github.com/rustyeddy/spiralbot/internal/logging"
	"github.com/rustyeddy/spiralbot/journal"
	"github.com/rustyeddy/spiralbot/pkg/id"
	"github.com/rustyeddy/spiralbot/replay"
)

// replay reruns the scan snapshots of a recorded journal through a
// fresh engine, writing the what-if outcome to a separate journal.
func newReplayCmd(rc *RootConfig) *cobra.Command {
	var (
		session string
		out     string
		seed    int64
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rerun recorded snapshots through a fresh engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}

			log, flush, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer flush()

			source, err := openJournal(cfg.Journal)
			if err != nil {
				return fmt.Errorf("open source journal: %w", err)
			}
			snapshots, err := replay.Load(source, session)
			source.Close()
			if err != nil {
				return err
			}

			dest, err := journal.NewCSV(out)
			if err != nil {
				return fmt.Errorf("open output journal: %w", err)
			}
			defer dest.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			feed := replay.NewFeed(snapshots, cancel)

			var rng *rand.Rand
			if seed != 0 {
				rng = rand.New(rand.NewSource(seed))
			}

			eng := engine.New(engine.Params{
				Feed:        feed,
				Journal:     dest,
				Log:         log,
				Rules:       rulesFrom(cfg),
				InitialCash: cfg.Portfolio.InitialCash,
				TopN:        cfg.Feed.TopN,
				Interval:    time.Millisecond,
				Session:     id.NewSession(),
				Rand:        rng,
			})

			fmt.Printf("replaying %d snapshots into %s (session %s)\n",
				len(snapshots), out, eng.Session())

			if err := eng.Run(ctx); err != nil {
				return err
			}

			last, ok, err := dest.LastEvent()
			if err == nil && ok {
				fmt.Printf("done: final equity %.2f\n", last.Equity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Replay only this session's scans")
	cmd.Flags().StringVar(&out, "out", "./replay_log.csv", "Destination journal file")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Deterministic noise seed (0 = random)")

	return cmd
}
