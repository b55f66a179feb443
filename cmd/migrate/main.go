package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/liamcoop/tripflow/internal/config"
	"github.com/liamcoop/tripflow/internal/database"
	"github.com/liamcoop/tripflow/internal/logger"
)

func run(mg *database.Migrator, command string, args []string) error {
	switch command {
	case "up":
		logger.Info("running migrations up")
		applied, err := mg.Up()
		if err != nil {
			return err
		}
		if !applied {
			logger.Info("no migrations to run, database is up to date")
			return nil
		}
		logger.Info("migrations completed")

	case "down":
		logger.Info("rolling back migrations")
		if err := mg.Down(); err != nil {
			return err
		}
		logger.Info("rollback completed")

	case "version":
		version, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[0], err)
		}
		if err := mg.Force(version); err != nil {
			return err
		}
		logger.Info("forced version", "version", version)

	default:
		return fmt.Errorf("unknown command %q (use: up, down, version, force)", command)
	}
	return nil
}

func main() {
	var (
		configPath     string
		databaseURL    string
		migrationsPath string
		command        string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML, TOML or JSON config file")
	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (defaults to MIGRATIONS_PATH or ./migrations)")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Setup(context.Background(), logger.Options{Level: cfg.LogLevel, ServiceName: "tripflow-migrate"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}
	if migrationsPath == "" {
		migrationsPath = cfg.MigrationsPath
	}

	logger.Info("connecting to database", "migrations", migrationsPath)
	mg, err := database.NewMigrator(migrationsPath, databaseURL)
	if err != nil {
		logger.Fatal("failed to create migrator", "error", err)
	}

	err = run(mg, command, flag.Args())
	if cerr := mg.Close(); cerr != nil {
		logger.Warn("failed to close migrator", "error", cerr)
	}
	if err != nil {
		logger.Fatal("migration failed", "command", command, "error", err)
	}
}
