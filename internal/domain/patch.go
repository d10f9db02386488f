package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Amount        *decimal.Decimal `json:"amount,omitempty" validate:"omitempty,gte=0"`
	DateTime      *time.Time       `json:"dateTime,omitempty"`
	Method        *string          `json:"method,omitempty" validate:"omitempty,max=64"`
	Type          *TransactionType `json:"type,omitempty" validate:"omitempty,oneof=credit debit"`
	TransactionID *string          `json:"transactionId,omitempty" validate:"omitempty,max=128"`
	SenderName    *string          `json:"senderName,omitempty" validate:"omitempty,max=256"`
	SenderID      *string          `json:"senderId,omitempty" validate:"omitempty,max=256"`
	ReceiverName  *string          `json:"receiverName,omitempty" validate:"omitempty,max=256"`
	ReceiverID    *string          `json:"receiverId,omitempty" validate:"omitempty,max=256"`
}

// PatchFromDraft returns a patch that overwrites every editable field.
func PatchFromDraft(d Draft) Patch {
	return Patch{
		Amount:        &d.Amount,
		DateTime:      &d.DateTime,
		Method:        &d.Method,
		Type:          &d.Type,
		TransactionID: &d.TransactionID,
		SenderName:    &d.SenderName,
		SenderID:      &d.SenderID,
		ReceiverName:  &d.ReceiverName,
		ReceiverID:    &d.ReceiverID,
	}
}

// IsEmpty reports whether the patch sets no field.
func (p Patch) IsEmpty() bool {
	return p.Amount == nil && p.DateTime == nil && p.Method == nil && p.Type == nil &&
		p.TransactionID == nil && p.SenderName == nil && p.SenderID == nil &&
		p.ReceiverName == nil && p.ReceiverID == nil
}

// Apply copies the set fields onto r. ID and OwnerID are never touched.
func (p Patch) Apply(r *Record) {
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.DateTime != nil {
		r.DateTime = *p.DateTime
	}
	if p.Method != nil {
		r.Method = *p.Method
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.TransactionID != nil {
		r.TransactionID = *p.TransactionID
	}
	if p.SenderName != nil {
		r.SenderName = *p.SenderName
	}
	if p.SenderID != nil {
		r.SenderID = *p.SenderID
	}
	if p.ReceiverName != nil {
		r.ReceiverName = *p.ReceiverName
	}
	if p.ReceiverID != nil {
		r.ReceiverID = *p.ReceiverID
	}
}
