package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/nmtlab/nmtgate/internal/errors"
	"github.com/nmtlab/nmtgate/internal/metrics"
	"github.com/nmtlab/nmtgate/internal/share"
)

type createShareResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateShare serves POST /api/share.
func (a *API) CreateShare(w http.ResponseWriter, r *http.Request) {
	if a.Shares == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Share storage not configured"))
		return
	}

	body, err := a.readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var draft share.Draft
	if err := json.Unmarshal(body, &draft); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid request"))
		return
	}

	record, err := a.Shares.Create(r.Context(), draft)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to create share"))
		return
	}

	metrics.RecordShareEvent("created")
	a.logger().Info("Share created",
		zap.String("id", record.ID),
		zap.String("visibility", string(record.Visibility)))
	writeJSON(w, http.StatusOK, createShareResponse{
		ID:  record.ID,
		URL: shareURL(r, record.ID),
	})
}

// GetShare serves GET /api/share/{id} and counts the play.
func (a *API) GetShare(w http.ResponseWriter, r *http.Request) {
	if a.Shares == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Share storage not configured"))
		return
	}

	record, err := a.Shares.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if stderrors.Is(err, share.ErrNotFound) {
			respondWithError(w, r, apperrors.NewNotFoundError("Not found"))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to load share"))
		return
	}

	metrics.RecordShareEvent("played")
	writeJSON(w, http.StatusOK, record)
}

// PublicShares serves GET /api/shares/public.
func (a *API) PublicShares(w http.ResponseWriter, r *http.Request) {
	if a.Shares == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Share storage not configured"))
		return
	}

	summaries, err := a.Shares.Public(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to list shares"))
		return
	}
	if summaries == nil {
		summaries = []share.Summary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func shareURL(r *http.Request, id string) string {
	scheme := "http"
	if r.Header.Get("X-Forwarded-Proto") == "https" || r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/v/" + id
}
