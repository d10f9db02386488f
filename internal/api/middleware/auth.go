package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/payscan/internal/auth"
)

// ProtectedPrefix is the path prefix that requires a bearer token.
const ProtectedPrefix = "/api/"

// Auth verifies the bearer token on requests under ProtectedPrefix and stores
// the caller identity in the request context. Other paths pass through
// untouched.
func Auth(verifier auth.TokenVerifier, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, ProtectedPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "You must be logged in")
				return
			}

			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
				WriteError(w, http.StatusUnauthorized, "You must be logged in")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
