package ingest

import (
	"testing"

	"github.com/dvloznov/payscan/internal/domain"
)

func TestCheckDuplicate(t *testing.T) {
	existing := []domain.Record{
		{ID: "r1", TransactionID: ""},
		{ID: "r2", TransactionID: "T123"},
		{ID: "r3", TransactionID: "T999"},
	}

	tests := []struct {
		name      string
		draft     domain.Draft
		existing  []domain.Record
		want      bool
		wantMatch string
	}{
		{"new draft with matching id", domain.Draft{TransactionID: "T123"}, existing, true, "r2"},
		{"new draft with padded matching id", domain.Draft{TransactionID: " T123 "}, existing, true, "r2"},
		{"new draft without match", domain.Draft{TransactionID: "T555"}, existing, false, ""},
		{"empty id never matches empty ids", domain.Draft{TransactionID: ""}, existing, false, ""},
		{"blank id", domain.Draft{TransactionID: "   "}, existing, false, ""},
		{"edit with matching id", domain.Draft{ID: "r9", TransactionID: "T123"}, existing, false, ""},
		{"edit of the same record", domain.Draft{ID: "r2", TransactionID: "T123"}, existing, false, ""},
		{"nothing loaded", domain.Draft{TransactionID: "T123"}, nil, false, ""},
		{"ids are case sensitive", domain.Draft{TransactionID: "t123"}, existing, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckDuplicate(tt.draft, tt.existing)
			if got.IsDuplicate != tt.want {
				t.Fatalf("IsDuplicate = %v, want %v", got.IsDuplicate, tt.want)
			}
			if tt.want && (got.Match == nil || got.Match.ID != tt.wantMatch) {
				t.Errorf("Match = %+v, want %s", got.Match, tt.wantMatch)
			}
			if !tt.want && got.Match != nil {
				t.Errorf("Match = %+v, want nil", got.Match)
			}
		})
	}
}
