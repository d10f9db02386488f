// Package notionsync mirrors a user's transactions into a Notion database.
package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/logger"
)

// Result counts what a sync did, or would do in a dry run.
type Result struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// SyncRecords makes the Notion database match records. Pages are keyed by
// record id: existing pages are updated, missing ones created, and pages whose
// record is gone (or that carry no id, or duplicate another page's id) are
// archived. Per-page failures are logged and counted; only failing to read the
// database aborts the sync.
func SyncRecords(ctx context.Context, records []domain.Record, notionClient NotionService, notionDBID string, dryRun bool) (Result, error) {
	log := logger.FromContext(ctx)
	var res Result

	log.Info().
		Int("record_count", len(records)).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	valid := make(map[string]bool, len(records))
	for _, rec := range records {
		valid[rec.ID] = true
	}

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return res, fmt.Errorf("SyncRecords: %w", err)
	}
	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	// Record id -> page id. The first page seen for an id wins.
	pageIDs := make(map[string]string, len(notionPages))
	var stale []notionapi.Page
	for _, page := range notionPages {
		recID := extractRecordID(page)
		if recID == "" || !valid[recID] {
			stale = append(stale, page)
			continue
		}
		if _, dup := pageIDs[recID]; dup {
			stale = append(stale, page)
			continue
		}
		pageIDs[recID] = string(page.ID)
	}

	for _, page := range stale {
		recID := extractRecordID(page)
		if dryRun {
			log.Info().
				Str("record_id", recID).
				Str("page_id", string(page.ID)).
				Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := notionClient.ArchivePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("record_id", recID).
				Str("page_id", string(page.ID)).
				Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	now := time.Now().UTC()
	for _, rec := range records {
		pageID, exists := pageIDs[rec.ID]

		if dryRun {
			if exists {
				log.Info().Str("record_id", rec.ID).Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
				res.Updated++
			} else {
				log.Info().Str("record_id", rec.ID).Msg("[DRY RUN] Would create Notion page")
				res.Created++
			}
			continue
		}

		props := RecordToNotionProperties(rec, now)
		if exists {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().
					Err(err).
					Str("record_id", rec.ID).
					Str("page_id", pageID).
					Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().
				Err(err).
				Str("record_id", rec.ID).
				Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		log.Debug().
			Str("record_id", rec.ID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page")
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Int("total", len(records)).
		Msg("Transaction sync completed")

	return res, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
