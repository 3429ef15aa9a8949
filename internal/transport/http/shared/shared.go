// Package shared holds the response helpers every handler uses, so the error
// envelope and the code-to-status mapping exist in exactly one place.
package shared

import (
	"context"
	"encoding/json"
	"net/http"

	dErrors "authconsent/pkg/domain-errors"
	"authconsent/pkg/requestcontext"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteError renders a domain error as the JSON error envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Code:          string(code),
		Message:       dErrors.MessageOf(err),
		CorrelationID: requestcontext.CorrelationID(ctx),
	}})
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
