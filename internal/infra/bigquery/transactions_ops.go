package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/payscan/internal/domain"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

const selectColumns = `
	id, owner_id, amount, date_time, method, type, transaction_id,
	sender_name, sender_id, receiver_name, receiver_id, created_ts, updated_ts`

func tableRef(projectID, datasetID string) string {
	return "`" + projectID + "." + datasetID + "." + transactionsTable + "`"
}

// EnsureTableWithClient creates the transactions table when it does not exist.
func EnsureTableWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	table := client.DatasetInProject(projectID, datasetID).Table(transactionsTable)

	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"owner_id"}},
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	return nil
}

// InsertTransactionWithClient adds one row using DML so it can be updated
// straight away (rows in the streaming buffer cannot be modified).
func InsertTransactionWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, row *TransactionRow) error {
	q := client.Query(`
		INSERT INTO ` + tableRef(projectID, datasetID) + ` (
			id, owner_id, amount, date_time, method, type, transaction_id,
			sender_name, sender_id, receiver_name, receiver_id, created_ts
		) VALUES (
			@id, @owner_id, @amount, @date_time, @method, @type, @transaction_id,
			@sender_name, @sender_id, @receiver_name, @receiver_id, CURRENT_TIMESTAMP()
		)
	`)
	q.Parameters = append(rowParameters(row), bigquery.QueryParameter{Name: "owner_id", Value: row.OwnerID})

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

// ListTransactionsByOwnerWithClient returns the owner's rows, newest first.
func ListTransactionsByOwnerWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, ownerID string) ([]*TransactionRow, error) {
	q := client.Query(`
		SELECT` + selectColumns + `
		FROM ` + tableRef(projectID, datasetID) + `
		WHERE owner_id = @owner_id
		ORDER BY created_ts DESC, id DESC
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactionsByOwner: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactionsByOwner: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

// GetTransactionWithClient returns the row with the given id, or nil.
func GetTransactionWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, id string) (*TransactionRow, error) {
	q := client.Query(`
		SELECT` + selectColumns + `
		FROM ` + tableRef(projectID, datasetID) + `
		WHERE id = @id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: id},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: query read: %w", err)
	}

	var r TransactionRow
	err = it.Next(&r)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: iter next: %w", err)
	}
	return &r, nil
}

// PatchTransactionWithClient updates only the columns p sets, plus updated_ts.
func PatchTransactionWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, id string, p domain.Patch) error {
	sets, params := patchAssignments(p)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_ts = CURRENT_TIMESTAMP()")
	params = append(params, bigquery.QueryParameter{Name: "id", Value: id})

	q := client.Query(`
		UPDATE ` + tableRef(projectID, datasetID) + `
		SET ` + strings.Join(sets, ", ") + `
		WHERE id = @id
	`)
	q.Parameters = params

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("PatchTransaction: %w", err)
	}
	return nil
}

// patchAssignments returns "column = @column" clauses and parameters for the
// set fields of p.
func patchAssignments(p domain.Patch) ([]string, []bigquery.QueryParameter) {
	var sets []string
	var params []bigquery.QueryParameter
	add := func(column string, value interface{}) {
		sets = append(sets, column+" = @"+column)
		params = append(params, bigquery.QueryParameter{Name: column, Value: value})
	}

	if p.Amount != nil {
		add("amount", p.Amount.Rat())
	}
	if p.DateTime != nil {
		add("date_time", p.DateTime.UTC().Format(time.RFC3339Nano))
	}
	if p.Method != nil {
		add("method", *p.Method)
	}
	if p.Type != nil {
		add("type", string(*p.Type))
	}
	if p.TransactionID != nil {
		add("transaction_id", *p.TransactionID)
	}
	if p.SenderName != nil {
		add("sender_name", *p.SenderName)
	}
	if p.SenderID != nil {
		add("sender_id", *p.SenderID)
	}
	if p.ReceiverName != nil {
		add("receiver_name", *p.ReceiverName)
	}
	if p.ReceiverID != nil {
		add("receiver_id", *p.ReceiverID)
	}
	return sets, params
}

// DeleteTransactionWithClient removes a row. Missing ids delete nothing.
func DeleteTransactionWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, id string) error {
	q := client.Query(`
		DELETE FROM ` + tableRef(projectID, datasetID) + `
		WHERE id = @id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: id},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// rowParameters binds every mutable column plus id. Callers add owner_id.
func rowParameters(row *TransactionRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "amount", Value: row.Amount},
		{Name: "date_time", Value: row.DateTime},
		{Name: "method", Value: row.Method},
		{Name: "type", Value: row.Type},
		{Name: "transaction_id", Value: row.TransactionID},
		{Name: "sender_name", Value: row.SenderName},
		{Name: "sender_id", Value: row.SenderID},
		{Name: "receiver_name", Value: row.ReceiverName},
		{Name: "receiver_id", Value: row.ReceiverID},
	}
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}
