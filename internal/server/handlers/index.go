package handlers

import (
	"net/http"

	apperrors "github.com/nmtlab/nmtgate/internal/errors"
)

// Index serves the bundled single-page app for /, /chat and /v/{id}.
func (a *API) Index(w http.ResponseWriter, r *http.Request) {
	if len(a.IndexHTML) == 0 {
		respondWithError(w, r, apperrors.NewNotFoundError("Not found"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.IndexHTML)
}
