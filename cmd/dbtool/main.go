package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/config"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/migrations"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)
	logging.Setup(os.Getenv("LOG_LEVEL"), "console")

	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	if len(os.Args) < 2 || os.Args[1] == "up" {
		log.Info().Msg("applying migrations")
		if err := migrations.Up(db); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Msg("migrations applied successfully")
		return
	}

	switch os.Args[1] {
	case "fix":
		log.Info().Msg("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			log.Fatal().Err(err).Msg("failed to fix dirty database")
		}
		log.Info().Msg("database fixed successfully")

	case "force":
		if len(os.Args) < 3 {
			log.Fatal().Msgf("usage: %s force <version>", os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatal().Str("version", os.Args[2]).Msg("invalid version number")
		}

		log.Info().Uint("version", v).Msg("forcing database version")
		if err := migrations.ForceVersion(db, v); err != nil {
			log.Fatal().Err(err).Msg("failed to force version")
		}
		log.Info().Uint("version", v).Msg("database version forced")

	case "status":
		st, err := migrations.Version(db)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read migration status")
		}
		if st.Fresh {
			fmt.Println("no migrations applied")
			return
		}
		fmt.Printf("version=%d dirty=%t\n", st.Version, st.Dirty)

	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|fix|force <version>|status]\n", os.Args[0])
		os.Exit(1)
	}
}
