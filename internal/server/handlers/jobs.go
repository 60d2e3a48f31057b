package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const warmupTimeout = 5 * time.Second

// MusicEndpointHeader selects the RunPod endpoint for a music request.
const MusicEndpointHeader = "X-Music-Endpoint"

// Speech serves POST /api/tts.
func (a *API) Speech(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp, err := a.Dispatcher.Speech(r.Context(), body)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.writeGatewayResponse(w, r, resp)
}

// Transcribe serves POST /api/stt; the body is raw audio.
func (a *API) Transcribe(w http.ResponseWriter, r *http.Request) {
	limit := a.MaxAudioBytes
	if limit <= 0 {
		limit = DefaultMaxAudioBytes
	}
	audio, err := a.readBody(w, r, limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp, err := a.Dispatcher.Transcribe(r.Context(), audio)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.writeGatewayResponse(w, r, resp)
}

// Music serves POST /api/music.
func (a *API) Music(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp, err := a.Dispatcher.Music(r.Context(), r.Header.Get(MusicEndpointHeader), body)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.writeGatewayResponse(w, r, resp)
}

// WarmupResponse reports chat worker availability.
type WarmupResponse struct {
	Status       string `json:"status,omitempty"`
	Ready        int    `json:"ready"`
	Initializing int    `json:"initializing"`
	InQueue      int    `json:"inQueue"`
	Error        string `json:"error,omitempty"`
}

// Warmup serves GET /api/warmup. Probing the health endpoint also nudges
// RunPod to start a worker. Failures are reported in the body with 200.
func (a *API) Warmup(w http.ResponseWriter, r *http.Request) {
	if a.Workers == nil || !a.Workers.Configured() || a.WarmupEndpoint == "" {
		writeJSON(w, http.StatusOK, WarmupResponse{Status: "not_configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), warmupTimeout)
	defer cancel()

	health, err := a.Workers.Health(ctx, a.WarmupEndpoint)
	if err != nil {
		a.logger().Warn("Warmup health check failed", zap.Error(err))
		writeJSON(w, http.StatusOK, WarmupResponse{Error: err.Error()})
		return
	}

	a.logger().Info("Warmup health",
		zap.Int("ready", health.Ready),
		zap.Int("initializing", health.Initializing),
		zap.Int("in_queue", health.InQueue))
	writeJSON(w, http.StatusOK, WarmupResponse{
		Ready:        health.Ready,
		Initializing: health.Initializing,
		InQueue:      health.InQueue,
	})
}
