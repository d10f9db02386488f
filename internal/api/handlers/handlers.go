// Package handlers implements the HTTP endpoints of the PayScan API.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/payscan/internal/api/middleware"
	"github.com/dvloznov/payscan/internal/auth"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/extraction"
	"github.com/dvloznov/payscan/internal/gcsuploader"
	"github.com/dvloznov/payscan/internal/logger"
	"github.com/dvloznov/payscan/internal/view"
)

// MaxImageBytes bounds the JSON body of an extraction request.
const MaxImageBytes = 15 << 20

// ExtractHandler handles POST /extractDetails.
type ExtractHandler struct {
	extractor extraction.Extractor
	archiver  gcsuploader.Archiver
	log       zerolog.Logger
}

// NewExtractHandler creates a new extraction handler. archiver may be nil, in
// which case screenshots are not kept.
func NewExtractHandler(extractor extraction.Extractor, archiver gcsuploader.Archiver, log zerolog.Logger) *ExtractHandler {
	return &ExtractHandler{
		extractor: extractor,
		archiver:  archiver,
		log:       log,
	}
}

// ExtractDetails decodes the base64 screenshot and returns the model's raw
// text unchanged.
func (h *ExtractHandler) ExtractDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Image    string `json:"image"`
		MimeType string `json:"mimeType"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxImageBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	image, err := decodeImage(req.Image)
	if err != nil || len(image) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "image must be non-empty base64")
		return
	}

	detected, ok := sniffImage(image)
	if !ok {
		h.log.Warn().Str("detected", detected).Str("mime_type", req.MimeType).Msg("Rejected non-image upload")
		middleware.WriteError(w, http.StatusBadRequest, "image is not a recognised picture format")
		return
	}
	if !strings.HasPrefix(req.MimeType, "image/") {
		req.MimeType = detected
	}

	if h.archiver != nil {
		uri, err := h.archiver.Archive(ctx, image, req.MimeType)
		if err != nil {
			// Archiving is best effort; extraction still runs.
			logger.FromContext(ctx).Warn().Err(err).Msg("Failed to archive screenshot")
		} else {
			logger.FromContext(ctx).Debug().Str("gcs_uri", uri).Msg("Screenshot archived")
		}
	}

	raw, err := h.extractor.Extract(ctx, image, req.MimeType)
	if err != nil {
		h.log.Error().Err(err).Str("mime_type", req.MimeType).Msg("Extraction failed")
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(raw))
}

// sniffImage reports the content type of b and whether it is a picture.
// HEIF/HEIC containers are recognised by their ftyp box, which
// http.DetectContentType does not know.
func sniffImage(b []byte) (string, bool) {
	ct := http.DetectContentType(b)
	if strings.HasPrefix(ct, "image/") {
		return ct, true
	}
	if len(b) >= 12 && string(b[4:8]) == "ftyp" {
		switch string(b[8:12]) {
		case "heic", "heix", "mif1", "msf1":
			return "image/heic", true
		}
	}
	return ct, false
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, after, ok := strings.Cut(s, ","); ok {
			s = after
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// RecordService is the part of records.Service the API exposes.
type RecordService interface {
	List(ctx context.Context, caller auth.Identity) ([]domain.Record, error)
	Submit(ctx context.Context, caller auth.Identity, d domain.Draft) (string, error)
	Patch(ctx context.Context, caller auth.Identity, id string, p domain.Patch) error
	Remove(ctx context.Context, caller auth.Identity, id string) error
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	svc RecordService
	loc *time.Location
	now func() time.Time
	log zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler. loc is the zone
// used for date filters, summaries and reports.
func NewTransactionsHandler(svc RecordService, loc *time.Location, log zerolog.Logger) *TransactionsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TransactionsHandler{
		svc: svc,
		loc: loc,
		now: time.Now,
		log: log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	records, q, ok := h.load(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, q.Run(records, h.loc))
}

// SubmitTransaction handles POST /api/transactions. A draft carrying an id
// overwrites that record.
func (h *TransactionsHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var d domain.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.svc.Submit(r.Context(), auth.FromContext(r.Context()), d)
	if err != nil {
		h.log.Warn().Err(err).Str("draft_id", d.ID).Msg("Failed to submit transaction")
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if d.IsEdit() {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, map[string]string{"id": id})
}

// PatchTransaction handles PATCH /api/transactions/{id}
func (h *TransactionsHandler) PatchTransaction(w http.ResponseWriter, r *http.Request, id string) {
	var p domain.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.svc.Patch(r.Context(), auth.FromContext(r.Context()), id, p); err != nil {
		h.log.Warn().Err(err).Str("id", id).Msg("Failed to patch transaction")
		writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Remove(r.Context(), auth.FromContext(r.Context()), id); err != nil {
		h.log.Warn().Err(err).Str("id", id).Msg("Failed to delete transaction")
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /api/transactions/summary. List filters apply; sorting
// does not affect the result.
func (h *TransactionsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	records, q, ok := h.load(w, r)
	if !ok {
		return
	}
	filtered := view.Apply(records, q.Filter, h.loc)
	middleware.WriteJSON(w, http.StatusOK, view.Summarize(filtered, h.now(), h.loc))
}

// Report handles GET /api/transactions/report
func (h *TransactionsHandler) Report(w http.ResponseWriter, r *http.Request) {
	records, q, ok := h.load(w, r)
	if !ok {
		return
	}

	rep, err := view.BuildReport(q.Run(records, h.loc), q.Filter, h.now(), h.loc)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rep)
}

// load parses the list query and fetches the caller's records. It writes the
// error response itself and reports false when the request is done.
func (h *TransactionsHandler) load(w http.ResponseWriter, r *http.Request) ([]domain.Record, view.Query, bool) {
	q, err := view.FromValues(r.URL.Query())
	if err != nil {
		writeServiceError(w, err)
		return nil, view.Query{}, false
	}

	records, err := h.svc.List(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return nil, view.Query{}, false
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, q, true
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		middleware.WriteError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
	case errors.Is(err, domain.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, domain.ErrForbidden.Error())
	case errors.Is(err, domain.ErrInvalidDraft):
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrExtractionFailed):
		middleware.WriteError(w, http.StatusBadGateway, domain.ErrExtractionFailed.Error())
	case errors.Is(err, view.ErrInvalidQuery):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, view.ErrNothingToReport):
		middleware.WriteError(w, http.StatusNotFound, "No transactions to download!")
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
