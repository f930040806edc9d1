package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rodrigopitanga/patchvec/internal/auth"
)

// Auth authenticates every request under it and stores the identity in the
// request context. Failures are written as typed envelopes here; tenant
// authorization stays with the handlers, which know the URL's tenant.
func Auth(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := a.Authenticate(r)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "auth_failed"
	switch {
	case errors.Is(err, auth.ErrInvalid):
		status, code = http.StatusUnauthorized, "auth_invalid"
	case errors.Is(err, auth.ErrForbidden):
		status, code = http.StatusForbidden, "auth_forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"code":  code,
		"error": err.Error(),
	})
}
