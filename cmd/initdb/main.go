package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"harmonia/internal/database"
)

// initdb initializes (or validates) the per-user database schema.
func main() {
	dataDir := flag.String("data-dir", "./data", "data directory root")
	userID := flag.String("user", "", "user id to initialize or validate")
	validate := flag.Bool("validate", false, "only validate an existing database, do not create")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: initdb -data-dir <dir> -user <id> [-validate]")
		os.Exit(2)
	}
	if err := database.ValidateUserID(*userID); err != nil {
		log.Fatalf("❌ %v", err)
	}

	router, err := database.NewRouter(*dataDir, time.Minute, 0)
	if err != nil {
		log.Fatalf("❌ Failed to open data directory: %v", err)
	}
	defer router.CloseAll()

	if *validate && !router.Exists(*userID) {
		log.Fatalf("❌ No database for user %q under %s", *userID, *dataDir)
	}

	engine, err := router.Get(*userID)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Health(ctx); err != nil {
		log.Fatalf("❌ Database failed validation: %v", err)
	}

	store, err := router.Store(*userID)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to read statistics: %v", err)
	}

	log.Printf("✅ Database ready for user %s at %s", *userID, engine.Path())
	for k, v := range stats {
		log.Printf("   %s: %d", k, v)
	}
}
