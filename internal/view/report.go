package view

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/payscan/internal/domain"
)

// ErrNothingToReport is returned when a report would have no rows.
var ErrNothingToReport = errors.New("no transactions to report")

const (
	ReportTitle = "PayScan Transaction Report"

	reportDateTimeLayout  = "Jan 2, 2006, 3:04 PM"
	reportGeneratedLayout = "02 Jan 2006, 3:04 PM"
	filterDateLayout      = "02/01/06"
)

// ReportColumns are the column headings of Report.Rows, in cell order.
var ReportColumns = []string{
	"S.N.", "Amount", "Sender Name", "Method", "Type",
	"Date & Time", "Transaction-id", "Receiver Name",
}

// ReportRow is one display-formatted transaction.
type ReportRow struct {
	Serial        int    `json:"serial"`
	Amount        string `json:"amount"`
	SenderName    string `json:"senderName"`
	Method        string `json:"method"`
	Type          string `json:"type"`
	DateTime      string `json:"dateTime"`
	TransactionID string `json:"transactionId"`
	ReceiverName  string `json:"receiverName"`
}

// Cells returns the row in ReportColumns order.
func (r ReportRow) Cells() []string {
	return []string{
		strconv.Itoa(r.Serial), r.Amount, r.SenderName, r.Method, r.Type,
		r.DateTime, r.TransactionID, r.ReceiverName,
	}
}

// MethodTotal is the summed amount for one known method bucket.
type MethodTotal struct {
	Method string `json:"method"`
	Total  string `json:"total"`
}

// Report is the data behind an exported transaction report. All amounts are
// pre-formatted for display.
type Report struct {
	Title        string        `json:"title"`
	Generated    string        `json:"generated"`
	Filters      string        `json:"filters"`
	Columns      []string      `json:"columns"`
	Rows         []ReportRow   `json:"rows"`
	Total        string        `json:"total"`
	TotalCredit  string        `json:"totalCredit"`
	TotalDebit   string        `json:"totalDebit"`
	MethodTotals []MethodTotal `json:"methodTotals"`
}

// BuildReport formats records, already filtered and sorted, as report rows
// and totals. f is only used for the filter description. Times are shown in
// loc.
func BuildReport(records []domain.Record, f Filter, now time.Time, loc *time.Location) (Report, error) {
	if len(records) == 0 {
		return Report{}, ErrNothingToReport
	}
	if loc == nil {
		loc = time.Local
	}

	rep := Report{
		Title:     ReportTitle,
		Generated: now.In(loc).Format(reportGeneratedLayout),
		Filters:   DescribeFilter(f),
		Columns:   ReportColumns,
		Rows:      make([]ReportRow, 0, len(records)),
	}

	var total, credit, debit decimal.Decimal
	byMethod := make(map[string]decimal.Decimal, len(domain.KnownMethods))
	for i, r := range records {
		rep.Rows = append(rep.Rows, ReportRow{
			Serial:        i + 1,
			Amount:        FormatINR(r.Amount),
			SenderName:    orNA(r.SenderName),
			Method:        orNA(r.Method),
			Type:          orNA(string(r.Type)),
			DateTime:      r.DateTime.In(loc).Format(reportDateTimeLayout),
			TransactionID: orNA(r.TransactionID),
			ReceiverName:  orNA(r.ReceiverName),
		})

		total = total.Add(r.Amount)
		switch r.Type {
		case domain.Credit:
			credit = credit.Add(r.Amount)
		case domain.Debit:
			debit = debit.Add(r.Amount)
		}
		bucket := domain.BucketMethod(r.Method)
		byMethod[bucket] = byMethod[bucket].Add(r.Amount)
	}

	rep.Total = FormatINR(total)
	rep.TotalCredit = FormatINR(credit)
	rep.TotalDebit = FormatINR(debit)
	for _, m := range domain.KnownMethods {
		rep.MethodTotals = append(rep.MethodTotals, MethodTotal{Method: m, Total: FormatINR(byMethod[m])})
	}
	return rep, nil
}

// DescribeFilter renders the active constraints of f for a report header, or
// "None" when nothing is filtered. The search prefix and amount range are not
// part of the description.
func DescribeFilter(f Filter) string {
	var parts []string
	if !f.Start.IsZero() {
		parts = append(parts, "From: "+f.Start.In(time.UTC).Format(filterDateLayout))
	}
	if !f.End.IsZero() {
		parts = append(parts, "To: "+f.End.In(time.UTC).Format(filterDateLayout))
	}
	if len(f.Methods) > 0 {
		parts = append(parts, "Methods: "+strings.Join(f.Methods, ", "))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		parts = append(parts, "Types: "+strings.Join(types, ", "))
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, " | ")
}
