package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/api"
	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/logging"
	"github.com/marcus/makemagic/internal/magic"
	"github.com/marcus/makemagic/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the JSON HTTP API over the configured store.

The catalog is reloaded when its file changes (catalog.watch), and
finished tasks are purged on the maintenance.purge_cron schedule.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if err := initLogging(cmd, cfg, true); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("serve")
	defer func() { _ = logging.Get().Close() }()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	for _, issue := range cat.Lint() {
		log.Warnf("catalog: %s", issue)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	engine := magic.New(cat, st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Catalog.Watch {
		w := catalog.NewWatcher(cfg.Catalog.Path, engine.SetCatalog,
			catalog.WithLogger(logging.Component("catalog")))
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Err(err).Msg("catalog watcher stopped")
			}
		}()
	}

	if cfg.Maintenance.PurgeCron != "" {
		sched, err := scheduler.NewFromConfig(&cfg.Maintenance)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		sched.AddJob(scheduler.PurgeJob(engine, cfg.Maintenance.Retention))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      api.New(engine),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoCtx("listening", map[string]any{
			"addr":    cfg.Server.Listen,
			"catalog": cat.Summary(),
			"store":   cfg.Store.Driver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
