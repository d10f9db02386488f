// Package importer turns a folder of payment screenshots into records. Each
// screenshot becomes a jobs.ImportJob handled by Importer.Handle.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dvloznov/payscan/internal/auth"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/extraction"
	"github.com/dvloznov/payscan/internal/gcsuploader"
	"github.com/dvloznov/payscan/internal/ingest"
	"github.com/dvloznov/payscan/internal/jobs"
)

// imageExtensions lists the files Scan picks up.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".heic", ".heif"}

// RecordService is the subset of records.Service the importer needs.
type RecordService interface {
	List(ctx context.Context, caller auth.Identity) ([]domain.Record, error)
	Insert(ctx context.Context, caller auth.Identity, d domain.Draft) (string, error)
}

// Options tune an Importer. The zero value imports everything once, without
// archiving or throttling.
type Options struct {
	// Archiver keeps a copy of every screenshot. Nil disables archiving.
	Archiver gcsuploader.Archiver
	// Limiter throttles model calls across all workers. Nil means unlimited.
	Limiter *rate.Limiter
	// AllowDuplicates stores screenshots whose transaction id is already
	// recorded for the owner.
	AllowDuplicates bool
	// Fetch downloads gs:// sources. Nil uses gcsuploader.FetchScreenshot.
	Fetch func(ctx context.Context, uri string) ([]byte, string, error)
}

// Importer handles import jobs. It is safe for use by several workers.
type Importer struct {
	extractor extraction.Extractor
	records   RecordService
	opts      Options
	now       func() time.Time
	log       zerolog.Logger

	mu sync.Mutex
	// known holds, per owner, the stored records plus the ones claimed by
	// in-flight jobs.
	known map[string][]domain.Record
}

// New creates an Importer.
func New(extractor extraction.Extractor, records RecordService, opts Options, log zerolog.Logger) *Importer {
	return &Importer{
		extractor: extractor,
		records:   records,
		opts:      opts,
		now:       time.Now,
		log:       log,
		known:     make(map[string][]domain.Record),
	}
}

// Handle imports the screenshot of one job. Paths starting with gs:// are
// downloaded and count as already archived. Unreadable or non-image files,
// malformed model output and invalid drafts fail permanently. A transaction id
// the owner already has is skipped unless duplicates are allowed.
func (im *Importer) Handle(ctx context.Context, job *jobs.ImportJob) error {
	log := im.log.With().Str("job_id", job.JobID).Str("path", job.Path).Logger()

	if job.OwnerID == "" {
		return fmt.Errorf("Handle: %w: %w", jobs.ErrPermanent, domain.ErrUnauthenticated)
	}

	image, mimeType, err := im.load(ctx, job)
	if err != nil {
		return fmt.Errorf("Handle: %w", err)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return fmt.Errorf("Handle: %w: %s is %s, not an image", jobs.ErrPermanent, job.Path, mimeType)
	}

	switch {
	case isGCS(job.Path):
		job.ArchiveURI = job.Path
	case im.opts.Archiver != nil && job.ArchiveURI == "":
		uri, err := im.opts.Archiver.Archive(ctx, image, mimeType)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive screenshot")
		} else {
			job.ArchiveURI = uri
		}
	}

	if im.opts.Limiter != nil {
		if err := im.opts.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("Handle: waiting for rate limiter: %w", err)
		}
	}

	raw, err := im.extractor.Extract(ctx, image, mimeType)
	if err != nil {
		return fmt.Errorf("Handle: %w", err)
	}

	draft, err := extraction.Normalize(raw, im.now())
	if err != nil {
		return fmt.Errorf("Handle: %w: %w", jobs.ErrPermanent, err)
	}

	caller := auth.Identity{Subject: job.OwnerID}
	settle, err := im.claim(ctx, caller, draft)
	if err != nil {
		return fmt.Errorf("Handle: %w", err)
	}

	id, err := im.records.Insert(ctx, caller, draft)
	settle(id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDraft) {
			return fmt.Errorf("Handle: %w: %w", jobs.ErrPermanent, err)
		}
		return fmt.Errorf("Handle: %w", err)
	}
	job.RecordID = id

	log.Info().
		Str("record_id", id).
		Str("transaction_id", draft.TransactionID).
		Str("amount", draft.Amount.StringFixed(2)).
		Msg("Screenshot imported")

	return nil
}

// load reads a local file or downloads a gs:// object. Local read errors are
// permanent; download errors may be retried.
func (im *Importer) load(ctx context.Context, job *jobs.ImportJob) ([]byte, string, error) {
	var image []byte
	var contentType string

	if isGCS(job.Path) {
		fetch := im.opts.Fetch
		if fetch == nil {
			fetch = gcsuploader.FetchScreenshot
		}
		var err error
		image, contentType, err = fetch(ctx, job.Path)
		if err != nil {
			return nil, "", fmt.Errorf("fetching %s: %w", gcsuploader.FilenameFromURI(job.Path), err)
		}
	} else {
		var err error
		image, err = os.ReadFile(job.Path)
		if err != nil {
			return nil, "", fmt.Errorf("reading screenshot: %w: %w", jobs.ErrPermanent, err)
		}
	}

	switch {
	case job.MimeType != "":
		return image, job.MimeType, nil
	case strings.HasPrefix(contentType, "image/"):
		return image, contentType, nil
	}
	return image, http.DetectContentType(image), nil
}

func isGCS(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// claim reserves the draft's transaction id for the owner so two workers
// cannot store the same payment. The returned func records the stored id, or
// drops the claim when called with "".
func (im *Importer) claim(ctx context.Context, caller auth.Identity, d domain.Draft) (func(string), error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	known, ok := im.known[caller.Subject]
	if !ok {
		recs, err := im.records.List(ctx, caller)
		if err != nil {
			return nil, fmt.Errorf("loading existing records: %w", err)
		}
		known = recs
	}

	if check := ingest.CheckDuplicate(d, known); check.IsDuplicate && !im.opts.AllowDuplicates {
		im.known[caller.Subject] = known
		return nil, fmt.Errorf("%w: transaction id %s already stored as %s", jobs.ErrSkipped, d.TransactionID, check.Match.ID)
	}

	im.known[caller.Subject] = append(known, domain.Record{ID: "in-flight", OwnerID: caller.Subject, TransactionID: d.TransactionID})
	idx := len(im.known[caller.Subject]) - 1

	return func(recordID string) {
		im.mu.Lock()
		defer im.mu.Unlock()
		// entries are only appended, so idx still points at the claim
		entry := &im.known[caller.Subject][idx]
		if recordID == "" {
			entry.TransactionID = ""
			return
		}
		entry.ID = recordID
	}, nil
}

// Scan returns the image files under dir in lexical order.
func Scan(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}
	slices.Sort(paths)
	return paths, nil
}
