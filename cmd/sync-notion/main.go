package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/payscan/internal/client"
	"github.com/dvloznov/payscan/internal/logger"
	"github.com/dvloznov/payscan/internal/notionsync"
	"github.com/dvloznov/payscan/internal/view"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	notionToken := flag.String("notion-token", os.Getenv("NOTION_TOKEN"), "Notion API token (required)")
	notionDBID := flag.String("notion-db-id", os.Getenv("NOTION_DB_ID"), "Notion database ID (required)")
	serverURL := flag.String("server", os.Getenv("PAYSCAN_URL"), "PayScan API base URL")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}
	token := os.Getenv("PAYSCAN_TOKEN")
	if token == "" {
		log.Fatal().Msg("Error: PAYSCAN_TOKEN is not set")
	}
	if *serverURL == "" {
		*serverURL = "http://localhost:8080"
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("server", *serverURL).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	// The Notion database mirrors every record, so the full list is fetched.
	records, err := client.New(*serverURL, token).List(ctx, view.Query{Sort: view.DefaultSort})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load transactions")
	}

	notionClient := notionsync.NewNotionClient(*notionToken)

	res, err := notionsync.SyncRecords(ctx, records, notionClient, *notionDBID, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed successfully: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}
