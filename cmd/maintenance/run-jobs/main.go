package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/services"
)

// run-jobs runs the expiry sweep and the payment reconciliation once, outside
// the server process. Useful after downtime, when holds have lapsed unswept.
func main() {
	var (
		dbURLFlag string
		sweep     bool
		reconcile bool
		batchSize int
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&sweep, "sweep", true, "expire lapsed Pending bookings and release their seats")
	flag.BoolVar(&reconcile, "reconcile", true, "flag captured payments whose booking did not confirm")
	flag.IntVar(&batchSize, "batch", 500, "bookings listed per sweep batch")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	bookingRepo := database.NewBookingRepository(db.DB)
	scheduleRepo := database.NewScheduleRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)

	if sweep {
		sweeper := services.NewExpirySweeper(bookingRepo, scheduleRepo, time.Minute, batchSize, logger)
		expired, err := sweeper.RunOnce(ctx)
		if err != nil {
			logger.Fatalf("sweep failed: %v", err)
		}
		fmt.Printf("Expired bookings: %d\n", expired)
	}

	if reconcile {
		audit := services.NewAuditService(database.NewPaymentAuditRepository(db.DB, logger), logger)
		cron := services.NewCronService("", paymentRepo, audit, logger)
		flagged, err := cron.RunOnce(ctx)
		if err != nil {
			logger.Fatalf("reconciliation failed: %v", err)
		}
		fmt.Printf("New reconciliation mismatches: %d\n", flagged)
	}
}
