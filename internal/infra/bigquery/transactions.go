package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/shopspring/decimal"
)

// amountScale is the NUMERIC scale BigQuery keeps.
const amountScale = 9

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	ID      string `bigquery:"id"`       // REQUIRED
	OwnerID string `bigquery:"owner_id"` // REQUIRED, clustered

	Amount   *big.Rat `bigquery:"amount"`    // REQUIRED NUMERIC
	DateTime string   `bigquery:"date_time"` // REQUIRED, RFC 3339 in UTC

	Method        string `bigquery:"method"`
	Type          string `bigquery:"type"`
	TransactionID string `bigquery:"transaction_id"`

	SenderName   string `bigquery:"sender_name"`
	SenderID     string `bigquery:"sender_id"`
	ReceiverName string `bigquery:"receiver_name"`
	ReceiverID   string `bigquery:"receiver_id"`

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED, insertion order
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// NewTransactionRow converts a record into its row form.
func NewTransactionRow(rec domain.Record) *TransactionRow {
	return &TransactionRow{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Amount:        rec.Amount.Rat(),
		DateTime:      rec.DateTime.UTC().Format(time.RFC3339Nano),
		Method:        rec.Method,
		Type:          string(rec.Type),
		TransactionID: rec.TransactionID,
		SenderName:    rec.SenderName,
		SenderID:      rec.SenderID,
		ReceiverName:  rec.ReceiverName,
		ReceiverID:    rec.ReceiverID,
	}
}

// Record converts the row back into a domain record.
func (r *TransactionRow) Record() (domain.Record, error) {
	amount := decimal.Zero
	if r.Amount != nil {
		amount = decimal.NewFromBigRat(r.Amount, amountScale)
	}
	dt, err := time.Parse(time.RFC3339Nano, r.DateTime)
	if err != nil {
		return domain.Record{}, fmt.Errorf("row %s: parsing date_time %q: %w", r.ID, r.DateTime, err)
	}
	return domain.Record{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Amount:        amount,
		DateTime:      dt,
		Method:        r.Method,
		Type:          domain.TransactionType(r.Type),
		TransactionID: r.TransactionID,
		SenderName:    r.SenderName,
		SenderID:      r.SenderID,
		ReceiverName:  r.ReceiverName,
		ReceiverID:    r.ReceiverID,
	}, nil
}
