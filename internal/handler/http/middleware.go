package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/vendasys/pos-service/pkg/httputil"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

// terminalIDKey is the context key for the POS terminal identifier.
const terminalIDKey contextKey = "terminal_id"

// TerminalIDFromHeader is middleware that reads the X-Terminal-ID header
// (set by the store gateway for each till) and stores it in the request
// context. If the header is absent the request is rejected with 401.
func TerminalIDFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Terminal-ID")
		if tid == "" {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "X-Terminal-ID header is required"},
			})
			return
		}
		ctx := context.WithValue(r.Context(), terminalIDKey, tid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// terminalIDFromContext extracts the terminal identifier from the request
// context. Returns the ID and true if present.
func terminalIDFromContext(ctx context.Context) (string, bool) {
	tid, ok := ctx.Value(terminalIDKey).(string)
	return tid, ok && tid != ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
