package notionsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

const (
	// RequestsPerSecond is Notion's documented average request allowance.
	RequestsPerSecond = 3
	maxAttempts       = 4
	retryBackoff      = time.Second
)

// NotionClient is the NotionService used in production. Every call shares one
// limiter, and calls rejected with 429 are retried with a growing delay.
type NotionClient struct {
	client  *notionapi.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(RequestsPerSecond, RequestsPerSecond),
		backoff: retryBackoff,
	}
}

// CreatePage adds a record page to a database.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	var page *notionapi.Page
	err := n.do(ctx, func() (err error) {
		page, err = n.client.Page.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage overwrites the given properties of a page.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageUpdateRequest{Properties: properties}

	var page *notionapi.Page
	err := n.do(ctx, func() (err error) {
		page, err = n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}
	return page, nil
}

// QueryDatabase fetches one page of database results.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	var resp *notionapi.DatabaseQueryResponse
	err := n.do(ctx, func() (err error) {
		resp, err = n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// ArchivePage moves a page to the trash. Notion has no hard delete.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	req := &notionapi.PageUpdateRequest{Archived: true}

	err := n.do(ctx, func() error {
		_, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
		return err
	})
	if err != nil {
		return fmt.Errorf("ArchivePage: %w", err)
	}
	return nil
}

func (n *NotionClient) do(ctx context.Context, call func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if werr := n.limiter.Wait(ctx); werr != nil {
			return werr
		}
		err = call()
		if err == nil || !isRateLimited(err) || attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * n.backoff):
		}
	}
	return err
}

func isRateLimited(err error) bool {
	var apiErr *notionapi.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}
