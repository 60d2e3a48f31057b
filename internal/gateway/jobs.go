package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nmtlab/nmtgate/internal/backend"
)

// Job poll bounds per capability.
var (
	SpeechPoll     = PollConfig{Interval: 3 * time.Second, MaxWait: 180 * time.Second}
	TranscribePoll = PollConfig{Interval: time.Second, MaxWait: 30 * time.Second}
	MusicPoll      = PollConfig{Interval: 2 * time.Second, MaxWait: 240 * time.Second}
)

// Normalizer maps a backend job output to the capability's canonical payload.
type Normalizer func(output json.RawMessage) (any, error)

// JobCandidate serves a capability through an asynchronous backend.
type JobCandidate struct {
	Backend   backend.AsyncBackend
	Poller    *Poller
	Poll      PollConfig
	Normalize Normalizer
}

func (c *JobCandidate) Name() string {
	if c == nil || c.Backend == nil {
		return "unknown"
	}
	return c.Backend.Name()
}

func (c *JobCandidate) Configured() bool {
	return c != nil && c.Backend != nil && c.Backend.Configured()
}

func (c *JobCandidate) Invoke(ctx context.Context, req *Request) (*Response, error) {
	poller := c.Poller
	if poller == nil {
		poller = NewPoller(nil)
	}

	output, err := poller.Run(ctx, c.Backend, req.Input, c.Poll)
	if err != nil {
		return nil, err
	}

	normalize := c.Normalize
	if normalize == nil {
		normalize = passthroughOutput
	}
	payload, err := normalize(output)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, ContentType: contentTypeJSON, Payload: payload}, nil
}

// passthroughOutput returns the job output unchanged, or an empty object.
func passthroughOutput(output json.RawMessage) (any, error) {
	if !hasJSON(output) {
		return map[string]any{}, nil
	}
	return output, nil
}

// Transcription is the canonical speech-to-text payload.
type Transcription struct {
	Text string `json:"text"`
}

// TranscriptionInput builds the whisper job input for raw audio bytes.
func TranscriptionInput(audio []byte) map[string]any {
	return map[string]any{
		"audio_base64":    base64.StdEncoding.EncodeToString(audio),
		"model":           "large-v3-turbo",
		"language":        "ja",
		"word_timestamps": false,
	}
}

func normalizeTranscription(output json.RawMessage) (any, error) {
	var parsed struct {
		Text          string `json:"text"`
		Transcription string `json:"transcription"`
	}
	if hasJSON(output) {
		if err := json.Unmarshal(output, &parsed); err != nil {
			return nil, &backend.MalformedResponseError{Provider: "stt", Reason: "decode output", Err: err}
		}
	}
	text := parsed.Text
	if text == "" {
		text = parsed.Transcription
	}
	return Transcription{Text: text}, nil
}

// MusicClip is the canonical music generation payload.
type MusicClip struct {
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
}

const (
	musicDefaultDuration = 30
	musicMinDuration     = 5
	musicMaxDuration     = 120
	musicMaxPrompt       = 500
)

// MusicInput builds the generation job input from a validated request
// document: duration is clamped, the prompt truncated and instrumental
// defaults to true.
func MusicInput(doc map[string]any) map[string]any {
	prompt := ""
	if v, ok := doc["prompt"].(string); ok {
		prompt = v
	}

	instrumental := true
	if v, ok := doc["instrumental"].(bool); ok && !v {
		instrumental = false
	}

	return map[string]any{
		"prompt":       truncateRunes(prompt, musicMaxPrompt),
		"duration":     musicDuration(doc["duration"]),
		"instrumental": instrumental,
		"format":       "mp3",
	}
}

func musicDuration(raw any) float64 {
	var d float64
	switch v := raw.(type) {
	case json.Number:
		d, _ = v.Float64()
	case float64:
		d = v
	case string:
		d, _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	if d == 0 || math.IsNaN(d) {
		d = musicDefaultDuration
	}
	return min(max(d, musicMinDuration), musicMaxDuration)
}

func normalizeMusic(output json.RawMessage) (any, error) {
	var parsed struct {
		AudioBase64 string `json:"audio_base64"`
	}
	if hasJSON(output) {
		if err := json.Unmarshal(output, &parsed); err != nil {
			return nil, &backend.MalformedResponseError{Provider: "music", Reason: "decode output", Err: err}
		}
	}
	return MusicClip{AudioBase64: parsed.AudioBase64, Format: "mp3"}, nil
}

func hasJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
