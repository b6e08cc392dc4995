// Command thymosd wires the object store, versioned memory repository,
// lifecycle engine, and pubsub layer into one running process. It is a
// composition root, not a command-line interface: flags are limited to
// locating the repository root and the search database, scheduling the
// optional retention sweep, and choosing log formatting; the config is read
// from the repository root, and everything else is driven by the library
// packages underneath it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/blakebarnett/thymos/config"
	"github.com/blakebarnett/thymos/logging"
	"github.com/blakebarnett/thymos/mlse"
	"github.com/blakebarnett/thymos/provider"
	"github.com/blakebarnett/thymos/pscl"
	"github.com/blakebarnett/thymos/vmr"
)

func main() {
	root := flag.String("root", ".", "repository root")
	ftsPath := flag.String("fts-db", "", "path to the FTS5 keyword-search database (defaults to <root>/search.db)")
	sweep := flag.String("sweep", "", "cron spec for the periodic retention sweep, e.g. \"@every 1h\" (disabled if empty)")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	log := logging.New(logging.Config{Level: "info", Pretty: *pretty})

	if err := run(*root, *ftsPath, *sweep, log); err != nil {
		log.Error().Err(err).Msg("thymosd exited with error")
		os.Exit(1)
	}
}

func run(root, ftsPath, sweepSpec string, log zerolog.Logger) error {
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var repo *vmr.Repository
	if _, statErr := os.Stat(filepath.Join(root, "branches.json")); os.IsNotExist(statErr) {
		repo, err = vmr.Init(root, log)
	} else {
		repo, err = vmr.Open(root, log)
	}
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	if ftsPath == "" {
		ftsPath = filepath.Join(root, "search.db")
	}
	search, err := provider.OpenFTS5Backend(ftsPath)
	if err != nil {
		return fmt.Errorf("open search backend: %w", err)
	}
	defer search.Close()

	bus, err := pscl.NewFromConfig(cfg.PubSubConfig(), log)
	if err != nil {
		return fmt.Errorf("construct pubsub backend: %w", err)
	}
	defer bus.Close()

	engine, err := mlse.NewEngine(repo, search,
		mlse.WithLifecycleConfig(cfg.LifecycleConfig()),
		mlse.WithPublisher(bus),
		mlse.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("construct lifecycle engine: %w", err)
	}

	if sweepSpec != "" {
		scheduler := mlse.NewScheduler(engine)
		if err := scheduler.Start(sweepSpec); err != nil {
			return fmt.Errorf("start retention sweep: %w", err)
		}
		defer scheduler.Stop()
	}

	log.Info().Str("root", root).Str("branch", repo.CurrentBranch()).Msg("thymosd ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info().Msg("thymosd shutting down")
	return nil
}
