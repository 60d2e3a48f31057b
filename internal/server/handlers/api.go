package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/backend/runpod"
	apperrors "github.com/nmtlab/nmtgate/internal/errors"
	"github.com/nmtlab/nmtgate/internal/gateway"
	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/media"
	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/share"
)

const (
	// DefaultMaxBodyBytes bounds JSON request bodies.
	DefaultMaxBodyBytes int64 = 16 << 20
	// DefaultMaxAudioBytes bounds raw audio sent for transcription.
	DefaultMaxAudioBytes int64 = 25 << 20

	streamChunkSize = 32 << 10
)

// API holds the collaborators behind the gateway HTTP endpoints.
type API struct {
	Dispatcher *gateway.Dispatcher
	Keys       keystore.Store
	AdminKey   string
	Shares     *share.Service
	Media      *media.Store
	AudioKind  media.Kind
	BGMKind    media.Kind
	IndexHTML  []byte
	Logger     observability.Logger

	// Workers reports RunPod worker health for the chat endpoint.
	Workers        WorkerProbe
	WarmupEndpoint string

	MaxBodyBytes  int64
	MaxAudioBytes int64
}

// WorkerProbe reports worker availability for a RunPod endpoint.
type WorkerProbe interface {
	Configured() bool
	Health(ctx context.Context, endpointID string) (*runpod.WorkerHealth, error)
}

func (a *API) logger() observability.Logger {
	return observability.OrNop(a.Logger)
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, apperrors.NewPayloadTooLargeError("Request body too large")
		}
		return nil, apperrors.WrapInvalidInput(r.Context(), err, "Unable to read request body")
	}
	return body, nil
}

// writeGatewayResponse relays a streamed body chunk by chunk, or encodes the
// payload as JSON.
func (a *API) writeGatewayResponse(w http.ResponseWriter, r *http.Request, resp *gateway.Response) {
	defer func() { _ = resp.Close() }()

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if resp.Body == nil {
		writeJSON(w, status, resp.Payload)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if strings.HasPrefix(contentType, "text/event-stream") {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(status)

	if err := relay(w, resp.Body); err != nil {
		a.logger().Warn("Stream relay interrupted",
			zap.String("backend", resp.Backend),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
}

func relay(w http.ResponseWriter, body io.Reader) error {
	controller := http.NewResponseController(w)
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := controller.Flush(); err != nil && !stderrors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
