package handlers

import (
	"net/http"

	"github.com/hklu21/Genomics-Analysis-Service/internal/server/middleware"
)

// HTTPErrorResponder writes err as an HTTP reply.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder replaces the responder. Nil restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = defaultErrorResponder
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, http.StatusInternalServerError, middleware.ErrorBody{
		Code:    "INTERNAL_ERROR",
		Message: err.Error(),
	})
}
