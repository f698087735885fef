package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/monitoring"
	"github.com/sells-group/watchman/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, optional scheduled polling and the health checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		poller := buildPoller(cfg, st)
		api := server.New(st, poller, server.Config{
			AdminToken:     cfg.Server.AdminToken,
			CORSOrigins:    cfg.Server.CORSOrigins,
			LLMEnabled:     cfg.Enrich.Enabled && cfg.Anthropic.Key != "",
			MarketProvider: cfg.Sources.Market.Provider,
			NotifyUserID:   cfg.Notify.UserID,
		})

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}
		if cfg.Poll.IntervalMins > 0 {
			go schedulePolls(ctx, api, time.Duration(cfg.Poll.IntervalMins)*time.Minute)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// schedulePolls runs a poll cycle every interval until ctx is cancelled.
// Poll-level failures are logged; the next tick tries again.
func schedulePolls(ctx context.Context, p server.Poller, interval time.Duration) {
	log := zap.L().With(zap.String("component", "poll.scheduler"))
	log.Info("scheduled polling enabled", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := p.Run(ctx)
			if errors.Is(err, server.ErrPollInProgress) {
				log.Info("skipping scheduled poll, one is already running")
				continue
			}
			if err != nil {
				log.Error("scheduled poll failed", zap.Error(err))
				continue
			}
			log.Info("scheduled poll complete",
				zap.String("run_id", run.ID),
				zap.String("state", string(run.ResultingState)),
				zap.Int("new_detections", run.NewDetections),
			)
		}
	}
}
