package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
)

// errorBody is the uniform error envelope: the DomainError shape, so any
// caller can inspect code/category without parsing messages.
type errorBody struct {
	Code      string `json:"code"`
	Category  string `json:"category"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
}

// writeError centralizes domain error translation to HTTP responses so
// every handler returns the same JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	de := dErrors.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(de.Category))
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:      string(de.Code),
		Category:  string(de.Category),
		Retryable: de.Retryable,
		Message:   de.Message,
	})
}

func statusFor(cat dErrors.Category) int {
	switch cat {
	case dErrors.CategoryValidation:
		return http.StatusBadRequest
	case dErrors.CategoryAuthorization:
		return http.StatusForbidden
	case dErrors.CategoryConflict:
		return http.StatusConflict
	case dErrors.CategoryNotFound:
		return http.StatusNotFound
	case dErrors.CategoryIntegrity:
		// The partition refuses writes until an operator intervenes.
		return http.StatusLocked
	case dErrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
