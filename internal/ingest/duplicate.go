package ingest

import (
	"strings"

	"github.com/dvloznov/payscan/internal/domain"
)

// DuplicateCheck is the outcome of CheckDuplicate.
type DuplicateCheck struct {
	IsDuplicate bool
	// Match is the first loaded record sharing the transaction id.
	Match *domain.Record
}

// CheckDuplicate flags a new draft whose transaction id already appears in
// existing. Edits and drafts without a transaction id are never duplicates.
// Only the records passed in are consulted.
func CheckDuplicate(d domain.Draft, existing []domain.Record) DuplicateCheck {
	if d.IsEdit() {
		return DuplicateCheck{}
	}
	txID := strings.TrimSpace(d.TransactionID)
	if txID == "" {
		return DuplicateCheck{}
	}
	for i := range existing {
		other := strings.TrimSpace(existing[i].TransactionID)
		if other != "" && other == txID {
			match := existing[i]
			return DuplicateCheck{IsDuplicate: true, Match: &match}
		}
	}
	return DuplicateCheck{}
}
