package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/spiralbot/journal"
	"github.com/rustyeddy/spiralbot/pkg/id"
)

func newJournalCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the trade journal",
	}

	cmd.AddCommand(
		newJournalTailCmd(rc),
		newJournalTodayCmd(rc),
		newJournalSessionsCmd(rc),
	)

	return cmd
}

func newJournalTailCmd(rc *RootConfig) *cobra.Command {
	var (
		limit  int
		symbol string
		action string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			j, err := openJournal(cfg.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			recs, err := j.Tail(limit, journal.Filter{Symbol: symbol, Action: action})
			if err != nil {
				return err
			}
			printEvents(recs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum events to print (0 = all)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Filter by symbol")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (SCAN, OPEN, CLOSE_BUY, ...)")

	return cmd
}

func newJournalTodayCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Print today's trade activity (opens, closes, deposits)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			j, err := openJournal(cfg.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			recs, err := j.Tail(0, journal.Filter{})
			if err != nil {
				return err
			}

			today := todayActivity(recs, time.Now())
			if len(today) == 0 {
				fmt.Println("no trade activity today")
				return nil
			}
			printEvents(today)
			return nil
		},
	}

	return cmd
}

func newJournalSessionsCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded session IDs (sqlite journal only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			if cfg.Journal.Type != "sqlite" {
				return fmt.Errorf("sessions requires the sqlite journal backend")
			}
			j, err := journal.NewSQLite(cfg.Journal.DBPath)
			if err != nil {
				return err
			}
			defer j.Close()

			sessions, err := j.ListSessions()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				if start, err := id.SessionStart(s); err == nil {
					fmt.Printf("%s  started %s\n", s, start.Local().Format(journal.TimeLayout))
					continue
				}
				fmt.Println(s)
			}
			return nil
		},
	}

	return cmd
}

// todayActivity keeps trade events (everything but scans) stamped on or
// after local midnight. Journal timestamps are local wall-clock, so the
// day boundary must be computed in the same location.
func todayActivity(recs []journal.EventRecord, now time.Time) []journal.EventRecord {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	var out []journal.EventRecord
	for _, rec := range recs {
		if rec.Timestamp.Before(midnight) || rec.Action == journal.ActionScan {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func printEvents(recs []journal.EventRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSYMBOL\tACTION\tPRICE\tDELTA%\tPNL\tREASON\tEQUITY")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%+.2f\t%+.2f\t%s\t%.2f\n",
			rec.Timestamp.Format(journal.TimeLayout),
			rec.Symbol,
			rec.Action,
			rec.Price,
			rec.Delta,
			rec.PnL,
			rec.CloseReason,
			rec.Equity,
		)
	}
	w.Flush()
}
