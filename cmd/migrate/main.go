package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-reservation/internal/catalog"
	"ms-reservation/internal/config"
	"ms-reservation/internal/database/migrations"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

const usage = "usage: migrate [up | down [steps] | version | seed]"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewLogger(logger.Options{Service: "reservation-migrate"})
	defer log.Close()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, log)
	defer runner.Close()

	switch command {
	case "up":
		err = runner.MigrateUp()
	case "down":
		steps := 0
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil {
				log.Fatal("MIGRATE", usage)
			}
		}
		err = runner.MigrateDown(steps)
	case "version":
		var version uint
		var dirty bool
		if version, dirty, err = runner.Version(); err == nil {
			log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty: %t)", version, dirty))
		}
	case "seed":
		if err = runner.MigrateUp(); err == nil {
			err = seed(context.Background(), bunDB)
		}
	default:
		log.Fatal("MIGRATE", usage)
	}
	if err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("%s failed: %v", command, err))
	}
	log.Info("MIGRATE", fmt.Sprintf("%s finished", command))
}

// seed inserts one published event and two attendees for local runs. Rows
// that already exist are left alone.
func seed(ctx context.Context, bunDB *bun.DB) error {
	now := time.Now().UTC()

	attendees := []models.Attendee{
		{ID: "user001", Name: "Alice Wonderland", Email: "alice@example.com", CreatedAt: now},
		{ID: "user002", Name: "Bob Builder", Email: "bob@example.com", CreatedAt: now},
	}
	directory := catalog.NewDirectory(bunDB)
	for i := range attendees {
		if err := directory.CreateAttendee(ctx, &attendees[i]); err != nil && !errors.Is(err, models.ErrConflict) {
			return err
		}
	}

	err := catalog.NewCatalog(bunDB).CreateEvent(ctx, &models.Event{
		ID:               "event001",
		Name:             "Summer Fest",
		OrganizerID:      "org001",
		Country:          "LK",
		Category:         "music",
		StartDate:        now.AddDate(0, 1, 0),
		Status:           models.EventStatusPublished,
		MaximumAttendees: 100,
		UnitPrice:        1500,
		CreatedAt:        now,
	})
	if errors.Is(err, models.ErrConflict) {
		return nil
	}
	return err
}
