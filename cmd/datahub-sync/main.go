// Command datahub-sync is the client CLI that mirrors hub datasets to
// the local filesystem (spec.md §6.6). Exit codes:
//
//	0  every dataset was already up to date or synced successfully
//	1  one or more datasets failed to sync
//	2  configuration error
//	3  the hub's listing could not be reached
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/datahubsync/datahubsync/pkg/clientlib/config"
	"github.com/datahubsync/datahubsync/pkg/clientlib/state"
	"github.com/datahubsync/datahubsync/pkg/clientlib/sync"
	"github.com/datahubsync/datahubsync/pkg/logging"
)

const (
	exitOK             = 0
	exitDatasetFailure = 1
	exitConfigError    = 2
	exitHubUnreachable = 3
)

func main() {
	app := cli.App{
		Name:      "datahub-sync",
		HelpName:  "datahub-sync",
		Usage:     "mirrors DataHubSync hub datasets to the local filesystem",
		Version:   "v0.1.0",
		UsageText: "datahub-sync <command> [arguments...]",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "config, c",
				Usage: "path to the client's TOML configuration file",
				Value: "client.toml",
			},
			cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug-level logging",
			},
		},
		Commands: []cli.Command{
			{
				Name:   "sync",
				Usage:  "downloads and applies any dataset updates the hub has published",
				Action: runSync,
			},
			{
				Name:   "status",
				Usage:  "reports each dataset's local sync state without downloading",
				Action: runStatus,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "datahub-sync: %v\n", err)
		os.Exit(exitConfigError)
	}
}

func loadForCLI(ctx *cli.Context) (*config.Config, logging.Logger, *state.Store, error) {
	log, err := logging.NewZapLogger(ctx.GlobalBool("debug"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build logger: %w", err)
	}

	cfg, warnings, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		log.Close()
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	for _, w := range warnings {
		log.Warning("config: unrecognized key %s", w)
	}

	st, err := state.Open(cfg.StateFile)
	if err != nil {
		log.Close()
		return nil, nil, nil, fmt.Errorf("open state: %w", err)
	}

	return cfg, log, st, nil
}

func runSync(ctx *cli.Context) error {
	cfg, log, st, err := loadForCLI(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "datahub-sync: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Close()
	defer st.Close()

	hub := sync.NewHubClient(cfg.HubBaseURL, nil)
	engine := sync.New(hub, st, log)

	results, err := engine.SyncAll(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "datahub-sync: %v\n", err)
		os.Exit(exitHubUnreachable)
	}

	failed := false
	for name, outcome := range results {
		switch outcome {
		case sync.OutcomeSynced:
			fmt.Printf("%s: synced\n", name)
		case sync.OutcomeUpToDate:
			fmt.Printf("%s: up to date\n", name)
		case sync.OutcomeNotReady:
			fmt.Printf("%s: hub has no package ready yet\n", name)
		case sync.OutcomeFailed:
			fmt.Printf("%s: failed\n", name)
			failed = true
		}
	}

	if failed {
		os.Exit(exitDatasetFailure)
	}
	os.Exit(exitOK)
	return nil
}

func runStatus(ctx *cli.Context) error {
	cfg, log, st, err := loadForCLI(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "datahub-sync: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Close()
	defer st.Close()

	for _, target := range cfg.Datasets {
		ds, ok := st.Get(target.Name)
		if !ok {
			fmt.Printf("%s: never synced\n", target.Name)
			continue
		}
		fmt.Printf("%s: last synced version %s (%s)\n",
			target.Name, ds.LastSyncedUpdate.Format("2006-01-02T15:04:05Z07:00"),
			humanize.Time(ds.LastSyncedAt))
	}
	os.Exit(exitOK)
	return nil
}
