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
	"golang.org/x/sync/errgroup"

	"github.com/chanzer0/tififn-times/internal/api"
	"github.com/chanzer0/tififn-times/internal/refresh"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the log API and refresh data periodically",
	Long: `Starts the HTTP API. When server.refresh_interval_mins is set, recent days are
re-scraped and newly added addresses geocoded on that interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := newScheduler(env)
		if err != nil {
			return err
		}
		runner := refresh.New(newPipeline(env), sched)
		defer runner.Wait()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(ctx, env.Store, env.Cache, runner, api.Options{CORSOrigins: cfg.Server.CORSOrigins}).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		log := logger("serve")
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			log.Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if every := time.Duration(cfg.Server.RefreshIntervalMins) * time.Minute; every > 0 {
			g.Go(func() error {
				refreshLoop(gctx, runner, every, cfg.Server.RefreshDays, cfg.Server.GeocodeLimit)
				return nil
			})
		}

		return g.Wait()
	},
}

// refresher is the part of refresh.Runner the loop drives.
type refresher interface {
	Refresh(ctx context.Context, days, limit int) (*refresh.Result, error)
}

// refreshLoop refreshes once immediately and then on every tick until ctx
// is done. A tick that finds a run in progress is skipped.
func refreshLoop(ctx context.Context, r refresher, every time.Duration, days, limit int) {
	log := logger("serve.refresh")
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		res, err := r.Refresh(ctx, days, limit)
		switch {
		case errors.Is(err, refresh.ErrBusy):
			log.Info("refresh skipped, run in progress")
		case err != nil:
			if ctx.Err() == nil {
				log.Error("refresh failed", zap.Error(err))
			}
		case res != nil:
			fields := []zap.Field{}
			if res.Ingest != nil {
				fields = append(fields, zap.Int("inserted", res.Ingest.Inserted), zap.Int("failed_days", res.Ingest.Failed))
			}
			if res.Geocode != nil {
				fields = append(fields, zap.Int("geocoded", res.Geocode.Successful), zap.Int64("records_updated", res.Geocode.RecordsUpdated))
			}
			log.Info("refresh complete", fields...)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
