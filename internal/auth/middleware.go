package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/code-judge/internal/apperror"
)

type contextKey string

const subjectKey contextKey = "subject"

// RequireAuth rejects requests without a valid token with 401 and stores the
// token subject in the request context otherwise.
//
// The token is read from "Authorization: Bearer <jwt>" first and from the
// "token" cookie set by the frontend second.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := authenticate(r, tokens)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated caller, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey).(string)
	return sub, ok && sub != ""
}

var errNoToken = errors.New("auth: no token")

func authenticate(r *http.Request, tokens *TokenService) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		cookie, err := r.Cookie("token")
		if err != nil {
			return "", errNoToken
		}
		raw = cookie.Value
	}
	return tokens.Validate(raw)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeUnauthorized(w http.ResponseWriter, cause error) {
	msg := "valid authentication required"
	if errors.Is(cause, errNoToken) {
		msg = "authentication token missing"
	}
	appErr := apperror.Unauthorized(msg)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="code-judge"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": appErr.Message,
	})
}
