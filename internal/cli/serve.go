package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/spiralbot/dashboard"
	"github.com/rustyeddy/spiralbot/internal/logging"
)

// serve runs the dashboard API against an existing journal, with no
// engine attached. Deposits are rejected in this mode; liveness is
// inferred from journal freshness.
func newServeCmd(rc *RootConfig) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API over an existing journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Dashboard.Addr = addr
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

			ds := dashboard.NewServer(j, log, nil, nil)
			httpSrv := &http.Server{Addr: cfg.Dashboard.Addr, Handler: ds.Router()}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				log.Info("dashboard listening", zap.String("addr", cfg.Dashboard.Addr))
				fmt.Printf("dashboard listening on %s\n", cfg.Dashboard.Addr)
				errc <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}
