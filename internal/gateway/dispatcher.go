package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/backend"
	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/metrics"
)

// KeyValidator resolves bearer tokens to key metadata.
type KeyValidator interface {
	Validate(ctx context.Context, token string) (*keystore.Metadata, error)
}

// Caller identifies an authorized API client.
type Caller struct {
	Name      string
	KeyPrefix string
}

// Dispatcher is the entry point for capability requests. It authorizes public
// callers and routes every capability through the Router.
type Dispatcher struct {
	Keys    KeyValidator
	Limiter *RateLimiter
	Router  *Router
	Poller  *Poller
	Logger  Logger

	// ChatAttempts is the ordered chat fallback chain.
	ChatAttempts []Attempt

	SpeechBackend backend.AsyncBackend
	Transcriber backend.AsyncBackend
	// MusicBackend resolves a music endpoint id to a backend.
	MusicBackend         func(endpointID string) backend.AsyncBackend
	DefaultMusicEndpoint string

	SpeechPoll     PollConfig
	TranscribePoll PollConfig
	MusicPoll      PollConfig
}

var bearerPrefix = regexp.MustCompile(`(?i)^bearer(\s+|$)`)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authorization string) string {
	return strings.TrimSpace(bearerPrefix.ReplaceAllString(strings.TrimSpace(authorization), ""))
}

// Authorize checks the bearer token and admits the caller against the rate
// limiter. Rejections are never retried and never reach a backend.
func (d *Dispatcher) Authorize(ctx context.Context, authorization string) (*Caller, error) {
	logger := loggerOrNop(d.Logger)

	token := BearerToken(authorization)
	if token == "" {
		metrics.RecordAuthFailure(string(KindUnauthenticated))
		logger.Warn("Missing API key")
		return nil, &Error{Kind: KindUnauthenticated, Message: "Missing API key. Include Authorization: Bearer " + keystore.TokenPrefix + "..."}
	}

	prefix := keystore.RedactToken(token)
	if d.Keys == nil {
		return nil, fmt.Errorf("key store not configured")
	}
	meta, err := d.Keys.Validate(ctx, token)
	if errors.Is(err, keystore.ErrNotFound) {
		metrics.RecordAuthFailure(string(KindInvalidCredential))
		logger.Warn("Invalid API key", zap.String("key", prefix))
		return nil, &Error{Kind: KindInvalidCredential, Message: "Invalid API key"}
	}
	if err != nil {
		return nil, fmt.Errorf("validate api key: %w", err)
	}

	if d.Limiter != nil && !d.Limiter.Admit(token) {
		limit, window := d.Limiter.Limit()
		metrics.RecordRateLimited()
		logger.Warn("Rate limited", zap.String("key", prefix), zap.String("name", meta.Name))
		return nil, &Error{
			Kind:       KindRateLimited,
			Message:    fmt.Sprintf("Rate limit exceeded (%d req/%s)", limit, windowUnit(window)),
			RetryAfter: d.Limiter.RetryAfter(),
		}
	}

	return &Caller{Name: meta.Name, KeyPrefix: prefix}, nil
}

// PublicChat serves the authenticated chat completions endpoint.
func (d *Dispatcher) PublicChat(ctx context.Context, authorization string, body []byte) (*Response, error) {
	caller, err := d.Authorize(ctx, authorization)
	if err != nil {
		return nil, err
	}

	req, err := ParseChatRequest(body)
	if err != nil {
		return nil, err
	}

	loggerOrNop(d.Logger).Info("Chat request",
		zap.String("key", caller.KeyPrefix),
		zap.String("name", caller.Name),
		zap.Int("messages", len(req.Messages)),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Bool("stream", req.Stream))

	return d.router().Dispatch(ctx, &Request{Capability: CapabilityChat, Chat: req}, d.ChatAttempts)
}

// Chat serves the unauthenticated internal chat endpoint.
func (d *Dispatcher) Chat(ctx context.Context, body []byte) (*Response, error) {
	req, err := ParseChatRequest(body)
	if err != nil {
		return nil, err
	}

	loggerOrNop(d.Logger).Info("Internal chat request",
		zap.Int("messages", len(req.Messages)),
		zap.Int("max_tokens", req.MaxTokens))

	return d.router().Dispatch(ctx, &Request{Capability: CapabilityChat, Chat: req}, d.ChatAttempts)
}

// Speech submits a text-to-speech job; the request body is the job input.
func (d *Dispatcher) Speech(ctx context.Context, body []byte) (*Response, error) {
	if _, err := decodeValidated(speechRequestSchema, body); err != nil {
		return nil, err
	}

	candidate := d.jobCandidate(d.SpeechBackend, d.SpeechPoll, SpeechPoll, passthroughOutput)
	return d.router().Dispatch(ctx, &Request{Capability: CapabilitySpeech, Input: json.RawMessage(body)}, []Attempt{{Candidate: candidate}})
}

// Transcribe submits raw audio bytes for transcription.
func (d *Dispatcher) Transcribe(ctx context.Context, audio []byte) (*Response, error) {
	if len(audio) == 0 {
		return nil, malformed("audio body is empty")
	}

	loggerOrNop(d.Logger).Info("Transcription request", zap.Int("bytes", len(audio)))

	candidate := d.jobCandidate(d.Transcriber, d.TranscribePoll, TranscribePoll, normalizeTranscription)
	return d.router().Dispatch(ctx, &Request{Capability: CapabilityTranscribe, Input: TranscriptionInput(audio)}, []Attempt{{Candidate: candidate}})
}

// Music submits a generation job to the endpoint named by endpointID, or the
// default music endpoint when it is empty.
func (d *Dispatcher) Music(ctx context.Context, endpointID string, body []byte) (*Response, error) {
	doc, err := decodeValidated(musicRequestSchema, body)
	if err != nil {
		return nil, err
	}
	fields, _ := doc.(map[string]any)
	input := MusicInput(fields)

	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		endpointID = d.DefaultMusicEndpoint
	}

	var target backend.AsyncBackend
	if d.MusicBackend != nil && endpointID != "" {
		target = d.MusicBackend(endpointID)
	}

	loggerOrNop(d.Logger).Info("Music request",
		zap.String("endpoint", endpointID),
		zap.Any("duration", input["duration"]))

	candidate := d.jobCandidate(target, d.MusicPoll, MusicPoll, normalizeMusic)
	return d.router().Dispatch(ctx, &Request{Capability: CapabilityMusic, Input: input}, []Attempt{{Candidate: candidate}})
}

func (d *Dispatcher) jobCandidate(b backend.AsyncBackend, cfg, fallback PollConfig, normalize Normalizer) *JobCandidate {
	if cfg.Interval <= 0 {
		cfg.Interval = fallback.Interval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = fallback.MaxWait
	}
	poller := d.Poller
	if poller == nil {
		poller = NewPoller(d.Logger)
	}
	return &JobCandidate{Backend: b, Poller: poller, Poll: cfg, Normalize: normalize}
}

func (d *Dispatcher) router() *Router {
	if d.Router != nil {
		return d.Router
	}
	return NewRouter(d.Logger)
}

func windowUnit(window time.Duration) string {
	if window == time.Minute {
		return "min"
	}
	return window.String()
}
