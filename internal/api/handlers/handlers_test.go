package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/payscan/internal/auth"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/infra/memory"
	"github.com/dvloznov/payscan/internal/logger"
	"github.com/dvloznov/payscan/internal/records"
	"github.com/dvloznov/payscan/internal/view"
)

// MockExtractor is a mock implementation of extraction.Extractor.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, image, mimeType)
	}
	return "", nil
}

// MockArchiver is a mock implementation of gcsuploader.Archiver.
type MockArchiver struct {
	ArchiveFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockArchiver) Archive(ctx context.Context, image []byte, mimeType string) (string, error) {
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, image, mimeType)
	}
	return "", nil
}

var (
	alice = auth.Identity{Subject: "alice"}
	bob   = auth.Identity{Subject: "bob"}
)

func quietLog() *bytes.Buffer { return &bytes.Buffer{} }

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	heicBytes = []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00")
)

func TestExtractDetails(t *testing.T) {
	png := pngBytes
	encoded := base64.StdEncoding.EncodeToString(png)
	html := base64.StdEncoding.EncodeToString([]byte("<html><script>alert(1)</script></html>"))

	tests := []struct {
		name       string
		body       string
		extractErr error
		wantStatus int
		wantBody   string
	}{
		{"plain base64", fmt.Sprintf(`{"image":%q,"mimeType":"image/png"}`, encoded), nil, http.StatusOK, `{"amount":"10"}`},
		{"data url", fmt.Sprintf(`{"image":"data:image/png;base64,%s","mimeType":"image/png"}`, encoded), nil, http.StatusOK, `{"amount":"10"}`},
		{"not json", `image=abc`, nil, http.StatusBadRequest, ""},
		{"empty image", `{"image":"","mimeType":"image/png"}`, nil, http.StatusBadRequest, ""},
		{"not base64", `{"image":"@@@@","mimeType":"image/png"}`, nil, http.StatusBadRequest, ""},
		{"provider failure", fmt.Sprintf(`{"image":%q}`, encoded), domain.ErrExtractionFailed, http.StatusBadGateway, ""},
		{"missing mime type is sniffed", fmt.Sprintf(`{"image":%q}`, encoded), nil, http.StatusOK, `{"amount":"10"}`},
		{"non-image mime type is replaced", fmt.Sprintf(`{"image":%q,"mimeType":"application/octet-stream"}`, encoded), nil, http.StatusOK, `{"amount":"10"}`},
		{"not an image", fmt.Sprintf(`{"image":%q,"mimeType":"image/png"}`, html), nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotImage []byte
			var gotMime string
			ext := &MockExtractor{
				ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
					gotImage, gotMime = image, mimeType
					if tt.extractErr != nil {
						return "", fmt.Errorf("Extract: %w", tt.extractErr)
					}
					return `{"amount":"10"}`, nil
				},
			}
			h := NewExtractHandler(ext, nil, logger.NewWithWriter(quietLog()))

			req := httptest.NewRequest(http.MethodPost, "/extractDetails", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ExtractDetails(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if !bytes.Equal(gotImage, png) || gotMime != "image/png" {
				t.Errorf("extractor got %v %q", gotImage, gotMime)
			}
		})
	}
}

func TestExtractDetails_NotImageSkipsArchiveAndModel(t *testing.T) {
	ext := &MockExtractor{
		ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
			t.Error("extractor called for a non-image")
			return "", nil
		},
	}
	arch := &MockArchiver{
		ArchiveFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
			t.Error("archiver called for a non-image")
			return "", nil
		},
	}
	h := NewExtractHandler(ext, arch, logger.NewWithWriter(quietLog()))

	body := fmt.Sprintf(`{"image":%q,"mimeType":"image/png"}`, base64.StdEncoding.EncodeToString([]byte("plain text, not a screenshot")))
	rec := httptest.NewRecorder()
	h.ExtractDetails(rec, httptest.NewRequest(http.MethodPost, "/extractDetails", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSniffImage(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		wantCT string
		wantOK bool
	}{
		{"png", pngBytes, "image/png", true},
		{"jpeg", jpegBytes, "image/jpeg", true},
		{"heic", heicBytes, "image/heic", true},
		{"text", []byte("hello"), "text/plain; charset=utf-8", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, ok := sniffImage(tt.in)
			if ct != tt.wantCT || ok != tt.wantOK {
				t.Errorf("sniffImage() = %q, %v; want %q, %v", ct, ok, tt.wantCT, tt.wantOK)
			}
		})
	}
}

func TestExtractDetails_Archive(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(jpegBytes)
	ext := &MockExtractor{
		ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
			return "{}", nil
		},
	}

	t.Run("archived before extraction", func(t *testing.T) {
		var archived []byte
		var archivedMime string
		arch := &MockArchiver{
			ArchiveFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
				archived, archivedMime = image, mimeType
				return "gs://bucket/screenshots/x.jpg", nil
			},
		}
		h := NewExtractHandler(ext, arch, logger.NewWithWriter(quietLog()))
		rec := httptest.NewRecorder()
		h.ExtractDetails(rec, httptest.NewRequest(http.MethodPost, "/extractDetails", strings.NewReader(fmt.Sprintf(`{"image":%q}`, encoded))))

		if rec.Code != http.StatusOK || !bytes.Equal(archived, jpegBytes) {
			t.Errorf("status = %d, archived = %q", rec.Code, archived)
		}
		if archivedMime != "image/jpeg" {
			t.Errorf("archived mime = %q, want sniffed image/jpeg", archivedMime)
		}
	})

	t.Run("archive failure does not block extraction", func(t *testing.T) {
		arch := &MockArchiver{
			ArchiveFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
				return "", errors.New("bucket unavailable")
			},
		}
		h := NewExtractHandler(ext, arch, logger.NewWithWriter(quietLog()))
		rec := httptest.NewRecorder()
		h.ExtractDetails(rec, httptest.NewRequest(http.MethodPost, "/extractDetails", strings.NewReader(fmt.Sprintf(`{"image":%q}`, encoded))))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

type fixture struct {
	h   *TransactionsHandler
	svc *records.Service
}

func newFixture() fixture {
	log := logger.NewWithWriter(quietLog())
	svc := records.NewService(memory.NewStore(), log)
	h := NewTransactionsHandler(svc, time.UTC, log)
	h.now = func() time.Time { return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC) }
	return fixture{h: h, svc: svc}
}

func as(id auth.Identity, r *http.Request) *http.Request {
	if !id.Authenticated() {
		return r
	}
	return r.WithContext(auth.WithIdentity(r.Context(), id))
}

func (f fixture) submit(t *testing.T, who auth.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.SubmitTransaction(rec, as(who, httptest.NewRequest(http.MethodPost, "/api/transactions", jsonBody(t, body))))
	return rec
}

func (f fixture) list(t *testing.T, who auth.Identity, query string) []domain.Record {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.ListTransactions(rec, as(who, httptest.NewRequest(http.MethodGet, "/api/transactions"+query, nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}
	var out []domain.Record
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out
}

func createdID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["id"] == "" {
		t.Fatalf("no id in response %q", rec.Body.String())
	}
	return body["id"]
}

func TestTransactions_SubmitAndList(t *testing.T) {
	f := newFixture()

	rec := f.submit(t, alice, map[string]any{
		"amount": "250.50", "dateTime": "2024-03-08T10:00:00Z", "method": "googlepay",
		"type": "debit", "transactionId": "UPI1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	id := createdID(t, rec)

	rec = f.submit(t, alice, map[string]any{"amount": 99, "dateTime": "2024-03-09T10:00:00Z", "transactionId": "UPI2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("second submit status = %d", rec.Code)
	}

	got := f.list(t, alice, "")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].TransactionID != "UPI2" || got[1].ID != id {
		t.Errorf("default order should be newest first: %+v", got)
	}
	if got[0].Type != domain.Credit {
		t.Errorf("type default = %q, want credit", got[0].Type)
	}
	if got[1].OwnerID != "alice" {
		t.Errorf("OwnerID = %q", got[1].OwnerID)
	}

	if others := f.list(t, bob, ""); len(others) != 0 {
		t.Errorf("bob sees %d records", len(others))
	}

	filtered := f.list(t, alice, "?type=debit&q=upi")
	if len(filtered) != 1 || filtered[0].ID != id {
		t.Errorf("filtered = %+v", filtered)
	}

	byAmount := f.list(t, alice, "?sort=amount&order=asc")
	if byAmount[0].TransactionID != "UPI2" {
		t.Errorf("amount asc first = %s", byAmount[0].TransactionID)
	}
}

func TestTransactions_SubmitEdit(t *testing.T) {
	f := newFixture()
	id := createdID(t, f.submit(t, alice, map[string]any{"amount": "10", "transactionId": "T1"}))

	rec := f.submit(t, alice, map[string]any{"id": id, "amount": "20", "transactionId": "T1", "type": "debit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d: %s", rec.Code, rec.Body.String())
	}
	got := f.list(t, alice, "")
	if len(got) != 1 || got[0].Amount.String() != "20" || got[0].Type != domain.Debit {
		t.Errorf("after edit = %+v", got)
	}

	if rec := f.submit(t, bob, map[string]any{"id": id, "amount": "1"}); rec.Code != http.StatusForbidden {
		t.Errorf("foreign edit status = %d, want 403", rec.Code)
	}
}

func TestTransactions_Errors(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name       string
		who        auth.Identity
		body       string
		wantStatus int
	}{
		{"no identity", auth.Identity{}, `{"amount":"1"}`, http.StatusUnauthorized},
		{"bad json", alice, `{"amount":`, http.StatusBadRequest},
		{"negative amount", alice, `{"amount":"-5"}`, http.StatusUnprocessableEntity},
		{"unknown type", alice, `{"amount":"5","type":"refund"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(tt.body))
			f.h.SubmitTransaction(rec, as(tt.who, req))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	f.h.ListTransactions(rec, as(alice, httptest.NewRequest(http.MethodGet, "/api/transactions?start=yesterday", nil)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad query status = %d, want 400", rec.Code)
	}
}

func TestTransactions_PatchAndDelete(t *testing.T) {
	f := newFixture()
	id := createdID(t, f.submit(t, alice, map[string]any{"amount": "10", "senderName": "Ravi"}))

	patch := func(who auth.Identity, body string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/transactions/"+id, strings.NewReader(body))
		f.h.PatchTransaction(rec, as(who, req), id)
		return rec.Code
	}
	del := func(who auth.Identity, target string) int {
		rec := httptest.NewRecorder()
		f.h.DeleteTransaction(rec, as(who, httptest.NewRequest(http.MethodDelete, "/api/transactions/"+target, nil)), target)
		return rec.Code
	}

	if code := patch(bob, `{"amount":"1"}`); code != http.StatusForbidden {
		t.Errorf("bob patch = %d, want 403", code)
	}
	if code := patch(alice, `{"receiverName":"Chai Point"}`); code != http.StatusOK {
		t.Fatalf("alice patch = %d", code)
	}
	got := f.list(t, alice, "")
	if got[0].ReceiverName != "Chai Point" || got[0].SenderName != "Ravi" || got[0].Amount.String() != "10" {
		t.Errorf("patch touched other fields: %+v", got[0])
	}

	if code := del(bob, id); code != http.StatusForbidden {
		t.Errorf("bob delete = %d, want 403", code)
	}
	if code := del(alice, "missing"); code != http.StatusNoContent {
		t.Errorf("missing delete = %d, want 204", code)
	}
	if code := del(alice, id); code != http.StatusNoContent {
		t.Errorf("alice delete = %d, want 204", code)
	}
	if left := f.list(t, alice, ""); len(left) != 0 {
		t.Errorf("records left: %+v", left)
	}
}

func TestTransactions_SummaryAndReport(t *testing.T) {
	f := newFixture()
	f.submit(t, alice, map[string]any{"amount": "1500", "dateTime": "2024-03-09T10:00:00Z", "method": "paytm", "type": "credit"})
	f.submit(t, alice, map[string]any{"amount": "500", "dateTime": "2024-03-10T08:00:00Z", "method": "phonepay", "type": "debit", "transactionId": "T9"})

	rec := httptest.NewRecorder()
	f.h.Summary(rec, as(alice, httptest.NewRequest(http.MethodGet, "/api/transactions/summary", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	var s view.Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(s.Types) != 2 || s.Types[0].Percent != 75 || s.Types[1].Percent != 25 {
		t.Errorf("types = %+v", s.Types)
	}
	if len(s.Week) != view.WeekDays || s.Week[6].Label != "Mar 10" || s.Week[6].Debit.String() != "500" {
		t.Errorf("week = %+v", s.Week)
	}

	rec = httptest.NewRecorder()
	f.h.Report(rec, as(alice, httptest.NewRequest(http.MethodGet, "/api/transactions/report?method=paytm", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}
	var rep view.Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(rep.Rows) != 1 || rep.Rows[0].Amount != "1,500.00" || rep.Filters != "Methods: paytm" || rep.Total != "1,500.00" {
		t.Errorf("report = %+v", rep)
	}

	rec = httptest.NewRecorder()
	f.h.Report(rec, as(bob, httptest.NewRequest(http.MethodGet, "/api/transactions/report", nil)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty report status = %d, want 404", rec.Code)
	}
}
