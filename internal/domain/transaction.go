package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money movement.
type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// Known payment apps. Method is an open enumeration: values outside this list
// are stored as given and aggregated under MethodOther.
const (
	MethodPhonePe   = "phonepay"
	MethodGooglePay = "googlepay"
	MethodPaytm     = "paytm"
	MethodAadhar    = "aadhar"
	MethodOther     = "other"
)

// KnownMethods lists the method buckets in display order.
var KnownMethods = []string{MethodGooglePay, MethodPhonePe, MethodPaytm, MethodAadhar, MethodOther}

var methodAliases = map[string]string{
	"phonepe":   MethodPhonePe,
	"phonepay":  MethodPhonePe,
	"gpay":      MethodGooglePay,
	"googlepay": MethodGooglePay,
	"tez":       MethodGooglePay,
	"paytm":     MethodPaytm,
	"aadhar":    MethodAadhar,
	"aadhaar":   MethodAadhar,
	"aadharpay": MethodAadhar,
	"bhim":      MethodOther,
	"other":     MethodOther,
}

// NormalizeMethod lower-cases a payment app name and folds common spellings
// ("Google Pay", "PhonePe") onto the known identifiers. Unknown names are kept.
func NormalizeMethod(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	compact := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
	if m, ok := methodAliases[compact]; ok {
		return m
	}
	return s
}

// BucketMethod maps a stored method onto one of KnownMethods.
func BucketMethod(method string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	for _, known := range KnownMethods {
		if m == known {
			return m
		}
	}
	return MethodOther
}

// ParseTransactionType maps provider and user spellings onto credit/debit.
// The second return is false when the value was not recognised.
func ParseTransactionType(raw string) (TransactionType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "credit", "credited", "received", "receive", "in":
		return Credit, true
	case "debit", "debited", "sent", "paid", "send", "out":
		return Debit, true
	}
	return Credit, false
}

// Record is a persisted UPI transaction. OwnerID is stamped by the store from
// the caller identity and never changes.
type Record struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"ownerId"`
	Amount        decimal.Decimal `json:"amount"`
	DateTime      time.Time       `json:"dateTime"`
	Method        string          `json:"method"`
	Type          TransactionType `json:"type"`
	TransactionID string          `json:"transactionId"`
	SenderName    string          `json:"senderName"`
	SenderID      string          `json:"senderId"`
	ReceiverName  string          `json:"receiverName"`
	ReceiverID    string          `json:"receiverId"`
}

// Draft is a transaction that has not been persisted yet. ID is empty for a
// new capture and carries the record id when editing.
type Draft struct {
	ID            string          `json:"id,omitempty"`
	Amount        decimal.Decimal `json:"amount" validate:"gte=0"`
	DateTime      time.Time       `json:"dateTime"`
	Method        string          `json:"method" validate:"max=64"`
	Type          TransactionType `json:"type" validate:"omitempty,oneof=credit debit"`
	TransactionID string          `json:"transactionId" validate:"max=128"`
	SenderName    string          `json:"senderName" validate:"max=256"`
	SenderID      string          `json:"senderId" validate:"max=256"`
	ReceiverName  string          `json:"receiverName" validate:"max=256"`
	ReceiverID    string          `json:"receiverId" validate:"max=256"`
}

// IsEdit reports whether the draft targets an existing record.
func (d Draft) IsEdit() bool {
	return d.ID != ""
}

// WithDefaults fills the submission-time defaults: type credit and a current
// timestamp when none was given.
func (d Draft) WithDefaults(now time.Time) Draft {
	if t, ok := ParseTransactionType(string(d.Type)); ok {
		d.Type = t
	} else if strings.TrimSpace(string(d.Type)) == "" {
		d.Type = Credit
	}
	if d.DateTime.IsZero() {
		d.DateTime = now
	}
	d.Method = strings.TrimSpace(d.Method)
	d.TransactionID = strings.TrimSpace(d.TransactionID)
	return d
}

// NewRecord builds the stored form of a draft.
func NewRecord(id, ownerID string, d Draft) Record {
	return Record{
		ID:            id,
		OwnerID:       ownerID,
		Amount:        d.Amount,
		DateTime:      d.DateTime,
		Method:        d.Method,
		Type:          d.Type,
		TransactionID: d.TransactionID,
		SenderName:    d.SenderName,
		SenderID:      d.SenderID,
		ReceiverName:  d.ReceiverName,
		ReceiverID:    d.ReceiverID,
	}
}

// Draft loads the record into an editable draft that keeps its id.
func (r Record) Draft() Draft {
	return Draft{
		ID:            r.ID,
		Amount:        r.Amount,
		DateTime:      r.DateTime,
		Method:        r.Method,
		Type:          r.Type,
		TransactionID: r.TransactionID,
		SenderName:    r.SenderName,
		SenderID:      r.SenderID,
		ReceiverName:  r.ReceiverName,
		ReceiverID:    r.ReceiverID,
	}
}
