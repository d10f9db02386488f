package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/payscan/internal/domain"
	"github.com/shopspring/decimal"
)

// Result is a normalized extraction. Status is informational and never persisted.
type Result struct {
	Draft  domain.Draft
	Status string
}

// Normalize parses raw model text into a draft, substituting defaults for every
// missing or unusable field. It fails only when the text is not a JSON object.
func Normalize(raw string, now time.Time) (domain.Draft, error) {
	res, err := Parse(raw, now)
	if err != nil {
		return domain.Draft{}, err
	}
	return res.Draft, nil
}

// Parse is Normalize plus the reported transaction status.
func Parse(raw string, now time.Time) (Result, error) {
	clean := cleanModelJSON(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrMalformedExtraction, err)
	}
	if fields == nil {
		return Result{}, fmt.Errorf("%w: expected a JSON object", domain.ErrMalformedExtraction)
	}

	d := domain.Draft{
		Amount:        getAmount(fields, "amount"),
		DateTime:      getDateTime(fields, now),
		Method:        domain.NormalizeMethod(getString(fields, "payment_app")),
		TransactionID: getString(fields, "upi_transaction_id"),
		SenderName:    getString(fields, "sender_name"),
		SenderID:      getString(fields, "sender_id"),
		ReceiverName:  getString(fields, "receiver_name"),
		ReceiverID:    getString(fields, "receiver_id"),
	}
	d.Type, _ = domain.ParseTransactionType(getString(fields, "transaction_type"))

	return Result{Draft: d, Status: getString(fields, "status")}, nil
}

// cleanModelJSON strips Markdown fences and any chatter around the object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

func getString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return ""
		}
		return s
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

var amountJunk = regexp.MustCompile(`(?i)(inr|rs\.?|₹|,|\s)`)

// getAmount returns a non-negative amount, or zero when the field is unusable.
func getAmount(m map[string]interface{}, key string) decimal.Decimal {
	var (
		d   decimal.Decimal
		err error
	)
	switch val := m[key].(type) {
	case json.Number:
		d, err = decimal.NewFromString(val.String())
	case string:
		d, err = decimal.NewFromString(amountJunk.ReplaceAllString(val, ""))
	default:
		return decimal.Zero
	}
	if err != nil {
		return decimal.Zero
	}
	if f, _ := d.Float64(); math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Zero
	}
	return d.Abs()
}

func getDateTime(m map[string]interface{}, now time.Time) time.Time {
	if t, ok := parseTimeValue(m["dateTime"], now.Location()); ok {
		return t
	}
	date, clock := getString(m, "date"), getString(m, "time")
	if date != "" {
		if t, ok := parseDateTime(strings.TrimSpace(date+" "+clock), now.Location()); ok {
			return t
		}
	}
	return now
}

func parseTimeValue(v interface{}, loc *time.Location) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		return parseDateTime(val, loc)
	case json.Number:
		n, err := val.Int64()
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		// millisecond epochs are what JavaScript clients emit
		if n > 1e12 {
			return time.UnixMilli(n).In(loc), true
		}
		return time.Unix(n, 0).In(loc), true
	}
	return time.Time{}, false
}

// Layouts for values without an explicit zone. Input is upper-cased and
// stripped of commas first, so month names and AM/PM match in any case.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02",
	"2 Jan 2006 3:04 PM",
	"2 Jan 2006 3:04:05 PM",
	"2 Jan 2006 15:04",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006",
	"2 January 2006 3:04 PM",
	"2 January 2006 15:04",
	"2 January 2006",
	"Jan 2 2006 3:04 PM",
	"Jan 2 2006 3:04:05 PM",
	"Jan 2 2006 15:04",
	"Jan 2 2006",
	"January 2 2006 3:04 PM",
	"January 2 2006",
	"3:04 PM 2 Jan 2006",
	"3:04 PM ON 2 Jan 2006",
	"02/01/2006 3:04 PM",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 3:04 PM",
	"02-01-2006 15:04",
	"02-01-2006",
}

var spaces = regexp.MustCompile(`\s+`)

func parseDateTime(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, " AT ", " ")
	s = strings.ReplaceAll(s, "HRS", "")
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	// "3:04PM" -> "3:04 PM"
	s = strings.NewReplacer("AM ", " AM ", "PM ", " PM ").Replace(s + " ")
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
