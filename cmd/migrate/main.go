package main

import (
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pawpool/pkg/config"
	"pawpool/pkg/logger"
)

const migrationsSource = "file://migrations"

func main() {
	log := logger.New("pool-migrate")
	cfg := config.Load()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate [up|down|steps N|version|force VERSION]", nil)
	}
	command := os.Args[1]

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		log.Fatal("Failed to create migration driver", map[string]interface{}{"error": err.Error()})
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsSource, "postgres", driver)
	if err != nil {
		log.Fatal("Failed to create migrate instance", map[string]interface{}{"error": err.Error()})
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Pool migrations applied", nil)

	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("Migration rollback failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Pool migrations rolled back", nil)

	case "steps":
		n := argInt(log, "steps")
		if err := m.Steps(n); err != nil && err != migrate.ErrNoChange {
			log.Fatal("Migration steps failed", map[string]interface{}{"error": err.Error(), "steps": n})
		}
		log.Info("Pool migration steps applied", map[string]interface{}{"steps": n})

	case "version":
		version, dirty, err := m.Version()
		if err == migrate.ErrNilVersion {
			log.Info("No migrations applied", nil)
			return
		}
		if err != nil {
			log.Fatal("Failed to get version", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Current schema version", map[string]interface{}{"version": version, "dirty": dirty})

	case "force":
		version := argInt(log, "force")
		if err := m.Force(version); err != nil {
			log.Fatal("Force migration failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Forced schema version", map[string]interface{}{"version": version})

	default:
		log.Fatal("Unknown command", map[string]interface{}{"command": command})
	}
}

func argInt(log logger.Logger, command string) int {
	if len(os.Args) < 3 {
		log.Fatal("Missing numeric argument", map[string]interface{}{"command": command})
	}
	n, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Fatal("Invalid numeric argument", map[string]interface{}{"command": command, "value": os.Args[2]})
	}
	return n
}
