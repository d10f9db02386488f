package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/dvloznov/payscan/internal/auth"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/infra/memory"
	"github.com/dvloznov/payscan/internal/jobs"
	"github.com/dvloznov/payscan/internal/jobs/inmemory"
	"github.com/dvloznov/payscan/internal/records"
)

const pngHeader = "\x89PNG\r\n\x1a\n"

var alice = auth.Identity{Subject: "alice"}

// MockExtractor is a mock implementation of extraction.Extractor
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, image, mimeType)
	}
	return "", errors.New("not implemented")
}

// MockArchiver is a mock implementation of gcsuploader.Archiver
type MockArchiver struct {
	ArchiveFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockArchiver) Archive(ctx context.Context, image []byte, mimeType string) (string, error) {
	if m.ArchiveFunc != nil {
		return m.ArchiveFunc(ctx, image, mimeType)
	}
	return "", errors.New("not implemented")
}

// answers maps the marker written after the PNG header to the model reply.
func answers(replies map[string]string) *MockExtractor {
	return &MockExtractor{
		ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
			if mimeType != "image/png" {
				return "", fmt.Errorf("unexpected mime type %s", mimeType)
			}
			marker := strings.TrimPrefix(string(image), pngHeader)
			reply, ok := replies[marker]
			if !ok {
				return "", fmt.Errorf("no reply for %q", marker)
			}
			return reply, nil
		},
	}
}

func reply(txID string, amount int) string {
	return fmt.Sprintf(`{"amount": %d, "upi_transaction_id": %q, "payment_app": "Google Pay", "transaction_type": "debit", "date": "2024-03-01T10:00:00Z"}`, amount, txID)
}

func writeScreenshot(t *testing.T, dir, name, marker string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(pngHeader+marker), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func newFixture(t *testing.T, extractor *MockExtractor, opts Options) (*Importer, *records.Service) {
	t.Helper()
	svc := records.NewService(memory.NewStore(), zerolog.Nop())
	im := New(extractor, svc, opts, zerolog.Nop())
	im.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return im, svc
}

func TestHandle(t *testing.T) {
	dir := t.TempDir()
	ok := writeScreenshot(t, dir, "ok.png", "ok")
	malformed := writeScreenshot(t, dir, "malformed.png", "malformed")
	tooLong := writeScreenshot(t, dir, "long.png", "long")
	flaky := writeScreenshot(t, dir, "flaky.png", "flaky")
	text := filepath.Join(dir, "notes.png")
	if err := os.WriteFile(text, []byte("just some notes"), 0o600); err != nil {
		t.Fatal(err)
	}

	extractor := answers(map[string]string{
		"ok":        reply("T100", 250),
		"malformed": "Sorry, I cannot read this image.",
		"long":      reply(strings.Repeat("9", 200), 10),
	})

	tests := []struct {
		name          string
		job           jobs.ImportJob
		wantErr       error
		wantPermanent bool
		wantRecord    bool
	}{
		{name: "imports screenshot", job: jobs.ImportJob{OwnerID: "alice", Path: ok}, wantRecord: true},
		{name: "missing owner", job: jobs.ImportJob{Path: ok}, wantErr: domain.ErrUnauthenticated, wantPermanent: true},
		{name: "missing file", job: jobs.ImportJob{OwnerID: "alice", Path: filepath.Join(dir, "nope.png")}, wantPermanent: true},
		{name: "not an image", job: jobs.ImportJob{OwnerID: "alice", Path: text}, wantPermanent: true},
		{name: "malformed model output", job: jobs.ImportJob{OwnerID: "alice", Path: malformed}, wantErr: domain.ErrMalformedExtraction, wantPermanent: true},
		{name: "invalid draft", job: jobs.ImportJob{OwnerID: "alice", Path: tooLong}, wantErr: domain.ErrInvalidDraft, wantPermanent: true},
		{name: "extractor failure is retryable", job: jobs.ImportJob{OwnerID: "alice", Path: flaky}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, svc := newFixture(t, extractor, Options{})
			job := tt.job

			err := im.Handle(context.Background(), &job)

			if tt.wantRecord {
				if err != nil {
					t.Fatalf("Handle() error = %v", err)
				}
				recs, _ := svc.List(context.Background(), alice)
				if len(recs) != 1 || recs[0].ID != job.RecordID {
					t.Fatalf("stored records = %+v, job.RecordID = %q", recs, job.RecordID)
				}
				if !recs[0].Amount.Equal(decimal.NewFromInt(250)) || recs[0].Method != "googlepay" || recs[0].Type != domain.Debit {
					t.Errorf("stored record = %+v", recs[0])
				}
				return
			}

			if err == nil {
				t.Fatal("Handle() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if got := errors.Is(err, jobs.ErrPermanent); got != tt.wantPermanent {
				t.Errorf("permanent = %v, want %v (error %v)", got, tt.wantPermanent, err)
			}
			if errors.Is(err, jobs.ErrSkipped) {
				t.Errorf("unexpected skip: %v", err)
			}
		})
	}
}

func TestHandle_Duplicates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := writeScreenshot(t, dir, "first.png", "first")
	again := writeScreenshot(t, dir, "again.png", "again")
	extractor := answers(map[string]string{
		"first": reply("T1", 100),
		"again": reply("T1", 100),
	})

	t.Run("already stored", func(t *testing.T) {
		im, svc := newFixture(t, extractor, Options{})
		if _, err := svc.Insert(ctx, alice, domain.Draft{Amount: decimal.NewFromInt(100), TransactionID: "T1"}); err != nil {
			t.Fatal(err)
		}

		err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: first})
		if !errors.Is(err, jobs.ErrSkipped) {
			t.Fatalf("Handle() error = %v, want ErrSkipped", err)
		}
		recs, _ := svc.List(ctx, alice)
		if len(recs) != 1 {
			t.Errorf("records = %d, want 1", len(recs))
		}
	})

	t.Run("same batch", func(t *testing.T) {
		im, svc := newFixture(t, extractor, Options{})
		if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: first}); err != nil {
			t.Fatalf("first Handle() error = %v", err)
		}
		if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: again}); !errors.Is(err, jobs.ErrSkipped) {
			t.Fatalf("second Handle() error = %v, want ErrSkipped", err)
		}
		recs, _ := svc.List(ctx, alice)
		if len(recs) != 1 {
			t.Errorf("records = %d, want 1", len(recs))
		}
	})

	t.Run("other owner is not a duplicate", func(t *testing.T) {
		im, svc := newFixture(t, extractor, Options{})
		if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: first}); err != nil {
			t.Fatal(err)
		}
		if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "bob", Path: again}); err != nil {
			t.Fatalf("Handle() for bob error = %v", err)
		}
		recs, _ := svc.List(ctx, auth.Identity{Subject: "bob"})
		if len(recs) != 1 {
			t.Errorf("bob records = %d, want 1", len(recs))
		}
	})

	t.Run("allowed", func(t *testing.T) {
		im, svc := newFixture(t, extractor, Options{AllowDuplicates: true})
		for _, p := range []string{first, again} {
			if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: p}); err != nil {
				t.Fatalf("Handle(%s) error = %v", p, err)
			}
		}
		recs, _ := svc.List(ctx, alice)
		if len(recs) != 2 {
			t.Errorf("records = %d, want 2", len(recs))
		}
	})
}

func TestHandle_FailedInsertReleasesClaim(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeScreenshot(t, dir, "a.png", "a")

	calls := 0
	extractor := &MockExtractor{
		ExtractFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
			calls++
			if calls == 1 {
				// too long to validate, so the insert fails after the claim
				return fmt.Sprintf(`{"amount": 5, "upi_transaction_id": "T9", "sender_name": %q}`, strings.Repeat("x", 300)), nil
			}
			return reply("T9", 5), nil
		},
	}
	im, svc := newFixture(t, extractor, Options{})

	if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: path}); !errors.Is(err, domain.ErrInvalidDraft) {
		t.Fatalf("first Handle() error = %v, want ErrInvalidDraft", err)
	}
	if err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: path}); err != nil {
		t.Fatalf("second Handle() error = %v", err)
	}
	recs, _ := svc.List(ctx, alice)
	if len(recs) != 1 {
		t.Errorf("records = %d, want 1", len(recs))
	}
}

func TestHandle_Archive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeScreenshot(t, dir, "a.png", "a")
	extractor := answers(map[string]string{"a": reply("T1", 1)})

	t.Run("uri recorded", func(t *testing.T) {
		archiver := &MockArchiver{
			ArchiveFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
				return "gs://bucket/screenshots/a.png", nil
			},
		}
		im, _ := newFixture(t, extractor, Options{Archiver: archiver})
		job := &jobs.ImportJob{OwnerID: "alice", Path: path}
		if err := im.Handle(ctx, job); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if job.ArchiveURI != "gs://bucket/screenshots/a.png" {
			t.Errorf("ArchiveURI = %q", job.ArchiveURI)
		}
	})

	t.Run("archive failure does not block import", func(t *testing.T) {
		archiver := &MockArchiver{
			ArchiveFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
				return "", errors.New("bucket unavailable")
			},
		}
		im, svc := newFixture(t, extractor, Options{Archiver: archiver})
		job := &jobs.ImportJob{OwnerID: "alice", Path: path}
		if err := im.Handle(ctx, job); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if job.ArchiveURI != "" {
			t.Errorf("ArchiveURI = %q, want empty", job.ArchiveURI)
		}
		recs, _ := svc.List(ctx, alice)
		if len(recs) != 1 {
			t.Errorf("records = %d, want 1", len(recs))
		}
	})
}

func TestHandle_GCSSource(t *testing.T) {
	ctx := context.Background()
	extractor := answers(map[string]string{"remote": reply("T7", 70)})
	archiver := &MockArchiver{
		ArchiveFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
			t.Error("gs:// sources must not be archived again")
			return "", nil
		},
	}

	t.Run("downloaded and imported", func(t *testing.T) {
		var fetched string
		opts := Options{
			Archiver: archiver,
			Fetch: func(ctx context.Context, uri string) ([]byte, string, error) {
				fetched = uri
				return []byte(pngHeader + "remote"), "application/octet-stream", nil
			},
		}
		im, svc := newFixture(t, extractor, opts)
		job := &jobs.ImportJob{OwnerID: "alice", Path: "gs://shots/2024/03/remote.png"}

		if err := im.Handle(ctx, job); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if fetched != job.Path {
			t.Errorf("fetched %q", fetched)
		}
		if job.ArchiveURI != job.Path {
			t.Errorf("ArchiveURI = %q, want the source uri", job.ArchiveURI)
		}
		recs, _ := svc.List(ctx, alice)
		if len(recs) != 1 || recs[0].TransactionID != "T7" {
			t.Errorf("records = %+v", recs)
		}
	})

	t.Run("download failure is retryable", func(t *testing.T) {
		opts := Options{
			Fetch: func(ctx context.Context, uri string) ([]byte, string, error) {
				return nil, "", errors.New("storage: connection reset")
			},
		}
		im, _ := newFixture(t, extractor, opts)

		err := im.Handle(ctx, &jobs.ImportJob{OwnerID: "alice", Path: "gs://shots/remote.png"})
		if err == nil || errors.Is(err, jobs.ErrPermanent) {
			t.Fatalf("Handle() error = %v, want a retryable error", err)
		}
		if !strings.Contains(err.Error(), "remote.png") {
			t.Errorf("error %q does not name the file", err)
		}
	})
}

func TestImportThroughQueue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	replies := map[string]string{}
	for i := 0; i < 6; i++ {
		marker := fmt.Sprintf("shot-%d", i)
		writeScreenshot(t, dir, marker+".png", marker)
		// shot-4 and shot-5 carry the same transaction id
		txID := fmt.Sprintf("T%d", i)
		if i == 5 {
			txID = "T4"
		}
		replies[marker] = reply(txID, 100+i)
	}

	im, svc := newFixture(t, answers(replies), Options{Limiter: rate.NewLimiter(rate.Inf, 1)})
	store := inmemory.NewStore()
	q := inmemory.NewQueue(10, 3, store)
	if err := q.Start(ctx, im.Handle); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Close()

	paths, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	for _, p := range paths {
		if err := q.Publish(ctx, &jobs.ImportJob{OwnerID: "alice", Path: p}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	list, _ := store.ListJobs(ctx, jobs.JobFilter{OwnerID: "alice"})
	counts := jobs.Tally(list)
	if counts[jobs.JobStatusCompleted] != 5 || counts[jobs.JobStatusSkipped] != 1 {
		t.Errorf("job statuses = %v, want 5 completed and 1 skipped", counts)
	}
	recs, _ := svc.List(ctx, alice)
	if len(recs) != 5 {
		t.Errorf("records = %d, want 5", len(recs))
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.PNG", "notes.txt", filepath.Join("sub", "c.webp")} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(pngHeader), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.PNG"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "sub", "c.webp"),
	}
	if len(got) != len(want) {
		t.Fatalf("Scan() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Scan()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := Scan(filepath.Join(dir, "missing")); err == nil {
		t.Error("Scan() on a missing dir should fail")
	}
}
