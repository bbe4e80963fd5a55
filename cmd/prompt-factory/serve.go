package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/prompt-factory/internal/maintenance"
	"github.com/hochfrequenz/prompt-factory/internal/prompts"
	"github.com/hochfrequenz/prompt-factory/web/api"
)

var servePort int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if servePort != 0 {
		a.cfg.Web.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := maintenance.NewJob(maintenanceConfig(a.cfg), a.store, a.pipeline,
		maintenance.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if err := job.Start(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	defer job.Stop()

	if a.cfg.Prompts.Watch {
		stopWatch, err := a.watchTemplates(ctx)
		if err != nil {
			a.logger.Warn("Template watcher disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	server := api.NewServer(a.pipeline, a.cfg.Addr(),
		api.WithLogger(a.logger),
		api.WithSuites(a.writer),
		api.WithHistory(a.store),
		api.WithMetrics(a.observer),
		api.WithHeartbeat(a.cfg.Heartbeat()),
		api.WithDefaultParallel(a.cfg.Pipeline.Parallel),
	)

	fmt.Printf("Serving API at http://%s\n", a.cfg.Addr())
	return server.Start(ctx)
}

// watchTemplates reloads agent templates when an override file changes.
func (a *app) watchTemplates(ctx context.Context) (func(), error) {
	w, err := prompts.NewWatcher(a.loader, a.logger)
	if err != nil {
		return nil, err
	}
	w.OnReload(func(files []string) {
		a.logger.Info("Agent templates reloaded", "files", len(files))
	})
	w.Start(ctx)
	return w.Stop, nil
}
