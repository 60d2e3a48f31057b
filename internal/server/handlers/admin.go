package handlers

import (
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/nmtlab/nmtgate/internal/errors"
	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/metrics"
)

// AdminKeyHeader carries the admin secret.
const AdminKeyHeader = "X-Admin-Key"

type createKeyRequest struct {
	Name string `json:"name"`
}

// RequireAdmin guards admin routes with the configured admin key.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.AdminKey == "" {
			respondWithError(w, r, apperrors.NewServiceUnavailableError("Admin key not configured"))
			return
		}
		provided := r.Header.Get(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(a.AdminKey)) != 1 {
			metrics.RecordKeyEvent("admin_denied")
			respondWithError(w, r, apperrors.NewUnauthorizedError("Invalid admin key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateKey serves POST /api/admin/keys.
func (a *API) CreateKey(w http.ResponseWriter, r *http.Request) {
	if a.Keys == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Key store not configured"))
		return
	}

	body, err := a.readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var req createKeyRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid JSON body"))
			return
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "unnamed"
	}

	cred, err := a.Keys.Create(r.Context(), name)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to create API key"))
		return
	}

	metrics.RecordKeyEvent("created")
	a.logger().Info("API key created", zap.String("name", cred.Name))
	writeJSON(w, http.StatusCreated, cred)
}

// ListKeys serves GET /api/admin/keys with redacted tokens.
func (a *API) ListKeys(w http.ResponseWriter, r *http.Request) {
	if a.Keys == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Key store not configured"))
		return
	}

	keys, err := a.Keys.List(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to list API keys"))
		return
	}
	if keys == nil {
		keys = []keystore.Redacted{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// RevokeKey serves DELETE /api/admin/keys/{key}; the key may be a unique prefix.
func (a *API) RevokeKey(w http.ResponseWriter, r *http.Request) {
	if a.Keys == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Key store not configured"))
		return
	}

	ref := keystore.RevokePrefix(chi.URLParam(r, "key"))
	err := a.Keys.Revoke(r.Context(), ref)
	switch {
	case err == nil:
	case stderrors.Is(err, keystore.ErrNotFound):
		respondWithError(w, r, apperrors.NewNotFoundError("API key not found"))
		return
	case stderrors.Is(err, keystore.ErrAmbiguous):
		respondWithError(w, r, apperrors.NewInvalidInputError("Key prefix matches more than one key"))
		return
	default:
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to revoke API key"))
		return
	}

	metrics.RecordKeyEvent("revoked")
	a.logger().Info("API key revoked")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
