// Package api assembles the HTTP surface: routes, handlers and middleware.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/payscan/internal/api/handlers"
	"github.com/dvloznov/payscan/internal/api/middleware"
	"github.com/dvloznov/payscan/internal/auth"
)

// Deps are the collaborators NewRouter wires together.
type Deps struct {
	Extract      *handlers.ExtractHandler
	Transactions *handlers.TransactionsHandler
	Verifier     auth.TokenVerifier
	// Limiter guards /extractDetails. Nil disables rate limiting.
	Limiter *middleware.RateLimiter
	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string
	Log         zerolog.Logger
}

// NewRouter returns the fully wrapped API handler.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	var extract http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			d.Extract.ExtractDetails(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})
	if d.Limiter != nil {
		extract = d.Limiter.Middleware(extract)
	}
	mux.Handle("/extractDetails", extract)

	// Transactions endpoints
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			d.Transactions.ListTransactions(w, r)
		case http.MethodPost:
			d.Transactions.SubmitTransaction(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Transactions.Summary(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/report", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Transactions.Report(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		// Extract transaction ID from path
		id := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
		if id == "" || strings.Contains(id, "/") {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		switch r.Method {
		case http.MethodPatch:
			d.Transactions.PatchTransaction(w, r, id)
		case http.MethodDelete:
			d.Transactions.DeleteTransaction(w, r, id)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(d.Log),
		middleware.Logger(d.Log),
		middleware.CORS(d.CORSOrigins),
		middleware.Auth(d.Verifier, d.Log),
	)
}
