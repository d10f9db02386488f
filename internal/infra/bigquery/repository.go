// Package bigquery stores records in a BigQuery table, one row per record.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/payscan/internal/domain"
)

// Repository is the BigQuery record backend. It holds a shared client to avoid
// creating a new connection for each operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a client for projectID and makes sure the table exists
// in datasetID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	if err := EnsureTableWithClient(ctx, client, projectID, datasetID); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewRepository: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ListByOwner returns the owner's records, newest insertion first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Record, error) {
	rows, err := ListTransactionsByOwnerWithClient(ctx, r.client, r.projectID, r.datasetID, ownerID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return nil, fmt.Errorf("ListByOwner: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns the record with the given id, or nil.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Record, error) {
	row, err := GetTransactionWithClient(ctx, r.client, r.projectID, r.datasetID, id)
	if err != nil || row == nil {
		return nil, err
	}
	rec, err := row.Record()
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &rec, nil
}

// Insert delegates to InsertTransactionWithClient.
func (r *Repository) Insert(ctx context.Context, rec domain.Record) error {
	return InsertTransactionWithClient(ctx, r.client, r.projectID, r.datasetID, NewTransactionRow(rec))
}

// Patch delegates to PatchTransactionWithClient. owner_id is never written.
func (r *Repository) Patch(ctx context.Context, id string, p domain.Patch) error {
	return PatchTransactionWithClient(ctx, r.client, r.projectID, r.datasetID, id, p)
}

// Delete delegates to DeleteTransactionWithClient.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return DeleteTransactionWithClient(ctx, r.client, r.projectID, r.datasetID, id)
}
