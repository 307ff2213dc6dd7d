// Command datahub-hub runs the distribution hub daemon (spec.md §6):
// it loads its configuration, starts the freshness/packaging scheduler,
// and serves the HTTP listing and archive-download endpoints until
// interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/datahubsync/datahubsync/internal/server"
	"github.com/datahubsync/datahubsync/pkg/hublib/config"
	"github.com/datahubsync/datahubsync/pkg/hublib/packager"
	"github.com/datahubsync/datahubsync/pkg/hublib/scheduler"
	"github.com/datahubsync/datahubsync/pkg/hublib/state"
	"github.com/datahubsync/datahubsync/pkg/logging"
)

const shutdownGrace = 10 * time.Second

var Description = `
DataHubSync hub watches configured dataset directories, packages each
one into a versioned archive once its contents settle, and serves the
current archives and freshness metadata to clients over HTTP.
`

func main() {
	app := cli.App{
		Name:        "datahub-hub",
		HelpName:    "datahub-hub",
		Usage:       "runs the DataHubSync distribution hub",
		Version:     "v0.1.0",
		UsageText:   "datahub-hub [global options]",
		Description: Description,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "config, c",
				Usage: "path to the hub's TOML configuration file",
				Value: "hub.toml",
			},
			cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug-level logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "datahub-hub: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log, err := logging.NewZapLogger(ctx.Bool("debug"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Close()

	cfg, warnings, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range warnings {
		log.Warning("config: unrecognized key %s", w)
	}

	names := make([]string, len(cfg.Datasets))
	for i, d := range cfg.Datasets {
		names[i] = d.Name
	}
	store, err := state.Load(cfg.StateFile, names)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	pkg := packager.New(cfg.CacheDir, cfg.KeepVersions)
	sched := scheduler.New(cfg.Datasets, store, pkg, log.With("component", "scheduler"), cfg.SchedulerTick)

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sched.Run(runCtx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.New(store, log.With("component", "server")).Routes(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("hub listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-runCtx.Done():
		log.Info("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
