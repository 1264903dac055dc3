package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrPatternConflict):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrExpertNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrNonTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error    string `json:"error"`
	Imported *int   `json:"imported,omitempty"`
}

// errorBody hides internal failure details from clients; they are logged instead.
func errorBody(r *http.Request, status int, err error) errorResponse {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		return errorResponse{Error: "internal error"}
	}
	return errorResponse{Error: err.Error()}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	writeJSON(w, status, errorBody(r, status, err))
}
