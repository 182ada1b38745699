// Command migrate manages the session store schema. It applies the SQL
// files under migrations/ (sessions, then session_events) against the
// database named in the config file, honoring the same GAMEMASTER_
// environment overrides as the server.
//
// Usage:
//
//	migrate [-config configs/dev.yaml] [-migrations migrations] up
//	migrate [flags] down <n>
//	migrate [flags] status
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/greyhelm/gamemaster/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	migrationsDir := flag.String("migrations", "migrations", "directory holding migration files")
	flag.Parse()

	if err := run(*configPath, *migrationsDir, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, migrationsDir string, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command: up, down <n>, or status")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m, err := migrate.New("file://"+migrationsDir, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("opening migrator: %w", err)
	}
	defer m.Close()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		if len(args) < 2 {
			return errors.New("down requires a step count")
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil || n < 1 {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		err = m.Steps(-n)
	case "status":
		return printStatus(m)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("schema already current")
		return printStatus(m)
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", args[0], err)
	}
	return printStatus(m)
}

func printStatus(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Printf("schema version: %d dirty: %v\n", version, dirty)
	return nil
}
