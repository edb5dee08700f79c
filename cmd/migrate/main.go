package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-pricing/internal/app"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/migrate"
)

func main() {
	var (
		dsn   = flag.String("dsn", "", "Postgres DSN (defaults to PG_DSN)")
		steps = flag.Int("steps", 1, "migrations to roll back with down")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if *dsn == "" {
		*dsn = cfg.PGDSN
	}
	if err := run(flag.Arg(0), *dsn, *steps, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cmd, dsn string, steps int, logger *slog.Logger) error {
	if dsn == "" {
		return errors.New("no database configured: set PG_DSN or -dsn")
	}
	runner, err := migrate.New(dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("close migrate runner", slog.Any("error", err))
		}
	}()

	switch cmd {
	case "", "up":
		return runner.Up()
	case "down":
		return runner.Down(steps)
	case "version":
		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", v, dirty)
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
