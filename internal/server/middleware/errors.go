// Package middleware holds the HTTP middleware of the health server.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one error.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RequestID propagates X-Request-ID, generating one when absent.
func RequestID(next http.Handler) http.Handler {
	return chimw.RequestID(next)
}

// Recovery turns a handler panic into a 500 INTERNAL_ERROR reply.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			msg := fmt.Sprintf("panic: %v", rec)
			observability.CLILogger.Error("Recovered from handler panic",
				zap.String("path", r.URL.Path),
				zap.String("panic", msg))
			WriteError(w, r, http.StatusInternalServerError, ErrorBody{
				Code:    "INTERNAL_ERROR",
				Message: msg,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// WriteError writes body with status. The request id, when known, is filled
// in from the request context.
func WriteError(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	if r != nil && body.RequestID == "" {
		body.RequestID = chimw.GetReqID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: body})
}
