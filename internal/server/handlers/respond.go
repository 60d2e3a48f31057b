package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/nmtlab/nmtgate/internal/errors"
)

type errorResponder func(http.ResponseWriter, *http.Request, error)

// respondError writes error envelopes for every handler in this package.
var respondError errorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder routes handler errors through the server's central
// handler. nil restores the envelope writer from internal/errors.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	respondError = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err)
}

// writeJSON encodes payload as the whole response. Upstream text passes
// through without HTML escaping.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
