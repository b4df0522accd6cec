package main

import (
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/partyjam/partyjam/internal/config"
	"github.com/partyjam/partyjam/internal/database"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		dir     = flag.String("dir", "migrations", "Migration files directory")
		command = flag.String("command", "up", "Migration command (up, down, force)")
		version = flag.Int("version", 1, "Version for the force command")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(database.Params{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migration driver")
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "mysql", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	switch *command {
	case "up":
		log.Info().Msg("Applying migrations...")
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		log.Info().Msg("Reverting migrations...")
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatal().Err(err).Msg("Failed to revert migrations")
		}
		log.Info().Msg("Migrations reverted successfully")
	case "force":
		log.Info().Int("version", *version).Msg("Forcing migration version...")
		if err := m.Force(*version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Msg("Migration version forced successfully")
	default:
		log.Fatal().Msgf("Unknown command: %s", *command)
	}
}
