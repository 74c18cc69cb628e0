package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/splax/pagesmith/internal/app/migrate"
	"github.com/splax/pagesmith/pkg/config"
	"github.com/splax/pagesmith/pkg/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := config.LoadAPIConfig()

	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "version to roll back to; 0 rolls back one migration")
	dir := flag.String("dir", cfg.MigrationsDir, "migrations directory")
	flag.Parse()

	log := logger.New("pagesmith-migrate", cfg.SlogLevel())
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner, err := migrate.New(cfg.DatabaseURL, *dir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err, "dir", *dir)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	case "status":
		var statuses []*goose.MigrationStatus
		if statuses, err = runner.Status(ctx); err == nil {
			err = printStatus(statuses)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", *command)
}

func printStatus(statuses []*goose.MigrationStatus) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tFILE\tSTATE\tAPPLIED AT")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, filepath.Base(st.Source.Path), st.State, applied)
	}
	return tw.Flush()
}
