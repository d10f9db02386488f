package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/payscan/internal/domain"
)

// Property names of the Notion transactions database.
const (
	PropRecordID      = "Record ID"
	PropAmount        = "Amount"
	PropDate          = "Date"
	PropMethod        = "Method"
	PropType          = "Type"
	PropTransactionID = "Transaction ID"
	PropSender        = "Sender"
	PropSenderID      = "Sender ID"
	PropReceiver      = "Receiver"
	PropReceiverID    = "Receiver ID"
	PropSyncedAt      = "Synced At"
)

// RecordToNotionProperties converts a stored transaction to Notion properties.
// The record id is the page title and the key used to find the page again.
// Empty optional text fields are left out so they do not clear edits made in
// Notion.
func RecordToNotionProperties(rec domain.Record, syncedAt time.Time) notionapi.Properties {
	method := rec.Method
	if method == "" {
		method = domain.MethodOther
	}

	props := notionapi.Properties{
		PropRecordID: notionapi.TitleProperty{
			Title: richText(rec.ID),
		},
		PropAmount: notionapi.NumberProperty{
			Number: rec.Amount.InexactFloat64(),
		},
		PropDate: dateProperty(rec.DateTime),
		PropMethod: notionapi.SelectProperty{
			Select: notionapi.Option{Name: method},
		},
		PropType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(rec.Type)},
		},
		PropSyncedAt: dateProperty(syncedAt),
	}

	optional := map[string]string{
		PropTransactionID: rec.TransactionID,
		PropSender:        rec.SenderName,
		PropSenderID:      rec.SenderID,
		PropReceiver:      rec.ReceiverName,
		PropReceiverID:    rec.ReceiverID,
	}
	for name, value := range optional {
		if value != "" {
			props[name] = notionapi.RichTextProperty{RichText: richText(value)}
		}
	}

	return props
}

// extractRecordID returns the record id stored in a page title, or "".
func extractRecordID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropRecordID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &d},
	}
}
