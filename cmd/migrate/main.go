package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/af-corp/wall-e/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or version")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	force := flag.Int("force", -1, "force the schema version and clear the dirty flag")
	dbURL := flag.String("db-url", "", "database URL (overrides env and config)")
	configDir := flag.String("config", "configs", "path to configuration directory")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dsn, err := resolveDSN(*dbURL, *configDir, logger)
	if err != nil {
		logger.Error("no database configured", "error", err)
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*migrationsPath, dsn)
	if err != nil {
		logger.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if *force >= 0 {
		if err := m.Force(*force); err != nil {
			logger.Error("force failed", "version", *force, "error", err)
			os.Exit(1)
		}
		report(m, "force")
		return
	}

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
	default:
		logger.Error("invalid direction (use up, down or version)", "direction", *direction)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}
	report(m, *direction)
}

// resolveDSN prefers the flag, then DATABASE_URL, then the database section
// of bot.yaml.
func resolveDSN(flagURL, configDir string, logger *slog.Logger) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env, nil
	}
	loader := config.NewLoader(configDir, logger)
	if err := loader.Load(); err != nil {
		return "", err
	}
	return loader.Config().Database.DSN(), nil
}

func report(m *migrate.Migrate, op string) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Printf("migration %s complete (no schema version)\n", op)
		return
	}
	fmt.Printf("migration %s complete (version: %d, dirty: %v)\n", op, v, dirty)
}
