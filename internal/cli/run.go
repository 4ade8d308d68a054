package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/spiralbot/coingecko"
	"github.com/rustyeddy/spiralbot/config"
	"github.com/rustyeddy/spiralbot/dashboard"
	"github.com/rustyeddy/spiralbot/engine"
	"github.com/rustyeddy/spiralbot/internal/logging"
	"github.com/rustyeddy/spiralbot/pkg/id"
	"github.com/rustyeddy/spiralbot/portfolio"
)

func newRunCmd(rc *RootConfig) *cobra.Command {
	var (
		duration time.Duration
		seed     int64
		serve    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
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

			j, err := openJournal(cfg.Journal)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			feed := coingecko.NewClient(cfg.Feed.BaseURL, cfg.Feed.Timeout)

			var rng *rand.Rand
			if seed != 0 {
				rng = rand.New(rand.NewSource(seed))
			}

			eng := engine.New(engine.Params{
				Feed:        feed,
				Journal:     j,
				Log:         log,
				Rules:       rulesFrom(cfg),
				InitialCash: cfg.Portfolio.InitialCash,
				TopN:        cfg.Feed.TopN,
				Interval:    cfg.Feed.ScanInterval,
				Session:     id.NewSession(),
				Rand:        rng,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if serve {
				ds := dashboard.NewServer(j, log, eng, func() string { return eng.State().String() })
				httpSrv := &http.Server{Addr: cfg.Dashboard.Addr, Handler: ds.Router()}
				go func() {
					if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("dashboard server failed", zap.Error(err))
					}
				}()
				defer func() {
					shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = httpSrv.Shutdown(shutCtx)
				}()
				log.Info("dashboard listening", zap.String("addr", cfg.Dashboard.Addr))
			}

			fmt.Printf("session %s starting (interval %s, top %d)\n",
				eng.Session(), cfg.Feed.ScanInterval, cfg.Feed.TopN)

			return eng.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = run until interrupted)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Deterministic noise seed (0 = random)")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the dashboard API in-process")

	return cmd
}

func rulesFrom(cfg *config.Config) portfolio.Rules {
	return portfolio.Rules{
		RiskPerTrade:     cfg.Trading.RiskPerTrade,
		ExecThresholdPct: cfg.Trading.ExecThresholdPct,
		MinTradeValue:    cfg.Trading.MinTradeValue,
		FeeRate:          cfg.Trading.FeeRate,
		MaxPositions:     cfg.Trading.MaxPositions,
		TrailingStopPct:  cfg.Trading.TrailingStopPct,
		StopLossPct:      cfg.Trading.StopLossPct,
		TakeProfitPct:    cfg.Trading.TakeProfitPct,
		MaxHold:          cfg.Trading.MaxHold,
	}
}
