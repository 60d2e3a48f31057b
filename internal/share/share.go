// Package share stores the records behind shareable /v/{id} links.
package share

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nmtlab/nmtgate/internal/keystore"
)

// Visibility controls whether a record appears in the public listing.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
)

const (
	idLength = 8

	// PublicLimit bounds the public listing.
	PublicLimit = 20

	maxGoal            = 2000
	maxPrompt          = 5000
	maxVoiceRef        = 200_000
	maxVoicePromptText = 500
)

var (
	// ErrNotFound is returned for unknown or malformed ids.
	ErrNotFound = errors.New("share not found")
	// ErrExists is returned by Store.Insert on id collision.
	ErrExists = errors.New("share id already exists")

	idPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)
)

// Record is a stored share.
type Record struct {
	ID              string     `json:"id"`
	Goal            string     `json:"goal"`
	Prompt          string     `json:"prompt"`
	VoiceRef        string     `json:"voice_ref"`
	VoicePromptText string     `json:"voice_prompt_text"`
	Visibility      Visibility `json:"visibility"`
	CreatedAt       time.Time  `json:"created_at"`
	Plays           int64      `json:"plays"`
}

// Summary is the public listing form; voice material is never included.
type Summary struct {
	ID         string     `json:"id" yaml:"id"`
	Goal       string     `json:"goal" yaml:"goal"`
	Prompt     string     `json:"prompt" yaml:"prompt"`
	Visibility Visibility `json:"visibility" yaml:"visibility"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	Plays      int64      `json:"plays" yaml:"plays"`
}

// Summarize strips voice fields from r.
func (r Record) Summarize() Summary {
	return Summary{
		ID:         r.ID,
		Goal:       r.Goal,
		Prompt:     r.Prompt,
		Visibility: r.Visibility,
		CreatedAt:  r.CreatedAt,
		Plays:      r.Plays,
	}
}

// Draft is the client payload for a new share.
type Draft struct {
	Goal            string `json:"goal"`
	Prompt          string `json:"prompt"`
	VoiceRef        string `json:"voice_ref"`
	VoicePromptText string `json:"voice_prompt_text"`
	Visibility      string `json:"visibility"`
}

// Store persists records.
type Store interface {
	// Insert fails if the id already exists.
	Insert(ctx context.Context, r *Record) error
	// Play atomically increments the play counter and returns the updated
	// record, or ErrNotFound.
	Play(ctx context.Context, id string) (*Record, error)
	// Public returns public records ordered by plays, highest first.
	Public(ctx context.Context, limit int) ([]Record, error)
}

// Service applies share rules on top of a Store.
type Service struct {
	store Store
	clock func() time.Time
}

// NewService wraps store.
func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// Create truncates draft fields, assigns an id and persists the record.
func (s *Service) Create(ctx context.Context, draft Draft) (*Record, error) {
	visibility := VisibilityUnlisted
	if strings.TrimSpace(draft.Visibility) == string(VisibilityPublic) {
		visibility = VisibilityPublic
	}

	// Ids are random; a collision retries with a fresh one.
	for attempt := 0; attempt < 3; attempt++ {
		id, err := keystore.RandomString(idLength)
		if err != nil {
			return nil, err
		}
		record := &Record{
			ID:              id,
			Goal:            truncate(draft.Goal, maxGoal),
			Prompt:          truncate(draft.Prompt, maxPrompt),
			VoiceRef:        truncate(draft.VoiceRef, maxVoiceRef),
			VoicePromptText: truncate(draft.VoicePromptText, maxVoicePromptText),
			Visibility:      visibility,
			CreatedAt:       s.clock().UTC(),
		}
		err = s.store.Insert(ctx, record)
		if errors.Is(err, ErrExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return record, nil
	}
	return nil, fmt.Errorf("allocate share id: %w", ErrExists)
}

// Get returns a record and counts the view as a play.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	return s.store.Play(ctx, id)
}

// Public lists the most played public records without voice fields.
func (s *Service) Public(ctx context.Context) ([]Summary, error) {
	records, err := s.store.Public(ctx, PublicLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(records))
	for _, r := range records {
		out = append(out, r.Summarize())
	}
	return out, nil
}

// ValidID reports whether id has the share id shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
