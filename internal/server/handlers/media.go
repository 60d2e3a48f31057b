package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/nmtlab/nmtgate/internal/errors"
	"github.com/nmtlab/nmtgate/internal/media"
	"github.com/nmtlab/nmtgate/internal/metrics"
)

const mediaCacheControl = "public, max-age=3600"

// GetAudio serves GET /api/audio/{name}.
func (a *API) GetAudio(w http.ResponseWriter, r *http.Request) {
	a.serveMedia(w, r, a.AudioKind)
}

// PutAudio serves POST /api/audio/{name}.
func (a *API) PutAudio(w http.ResponseWriter, r *http.Request) {
	a.storeMedia(w, r, a.AudioKind)
}

// GetBGM serves GET /api/bgm/{name}.
func (a *API) GetBGM(w http.ResponseWriter, r *http.Request) {
	a.serveMedia(w, r, a.BGMKind)
}

// PutBGM serves POST /api/bgm/{name}.
func (a *API) PutBGM(w http.ResponseWriter, r *http.Request) {
	a.storeMedia(w, r, a.BGMKind)
}

func (a *API) serveMedia(w http.ResponseWriter, r *http.Request, kind media.Kind) {
	if a.Media == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Media storage not configured"))
		return
	}

	name := chi.URLParam(r, "name")
	file, info, err := a.Media.Open(kind, name)
	if err != nil {
		if stderrors.Is(err, media.ErrNotFound) {
			respondWithError(w, r, apperrors.NewNotFoundError("Not found"))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to read media"))
		return
	}
	defer func() { _ = file.Close() }()

	w.Header().Set("Content-Type", kind.ContentType)
	w.Header().Set("Cache-Control", mediaCacheControl)
	http.ServeContent(w, r, name+kind.Ext, info.ModTime(), file)
}

func (a *API) storeMedia(w http.ResponseWriter, r *http.Request, kind media.Kind) {
	if a.Media == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Media storage not configured"))
		return
	}

	name := chi.URLParam(r, "name")
	size, err := a.Media.Put(kind, name, r.Body)
	switch {
	case err == nil:
	case stderrors.Is(err, media.ErrInvalidName):
		metrics.RecordMediaUpload(kind.Name, false)
		respondWithError(w, r, apperrors.NewInvalidInputError("Invalid name"))
		return
	case stderrors.Is(err, media.ErrTooLarge):
		metrics.RecordMediaUpload(kind.Name, false)
		respondWithError(w, r, apperrors.NewPayloadTooLargeError("File too large"))
		return
	default:
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to store media"))
		return
	}

	metrics.RecordMediaUpload(kind.Name, true)
	a.logger().Info("Media stored",
		zap.String("kind", kind.Name),
		zap.String("name", name),
		zap.Int64("size", size))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "size": size})
}
