// Package keystore manages API credentials for the public gateway surface.
package keystore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a token is not in the store.
	ErrNotFound = errors.New("api key not found")
	// ErrAmbiguous is returned when a revoke prefix matches several keys.
	ErrAmbiguous = errors.New("api key prefix matches more than one key")
)

// Metadata describes a credential.
type Metadata struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// Credential is a newly created key. The full token is only ever returned
// here.
type Credential struct {
	Token string `json:"key"`
	Metadata
}

// Redacted is the listing form of a credential.
type Redacted struct {
	Key     string    `json:"key" yaml:"key"`
	Name    string    `json:"name" yaml:"name"`
	Created time.Time `json:"created" yaml:"created"`
}

// Store persists credentials.
type Store interface {
	Create(ctx context.Context, name string) (*Credential, error)
	// Validate returns ErrNotFound for unknown tokens.
	Validate(ctx context.Context, token string) (*Metadata, error)
	// List never returns full tokens.
	List(ctx context.Context) ([]Redacted, error)
	// Revoke deletes the key equal to, or uniquely prefixed by, tokenOrPrefix.
	Revoke(ctx context.Context, tokenOrPrefix string) error
}
