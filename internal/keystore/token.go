package keystore

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	// TokenPrefix marks gateway keys in headers and logs.
	TokenPrefix = "nmt_"
	// Alphabet omits characters that are easy to confuse (0/O, 1/l/I, i).
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

	tokenLength    = 24
	redactedLength = 8
	maxNameLength  = 50
	defaultName    = "unnamed"
)

// RandomString returns n characters drawn uniformly from Alphabet.
func RandomString(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	limit := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate random: %w", err)
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// GenerateToken returns a new API key.
func GenerateToken() (string, error) {
	body, err := RandomString(tokenLength)
	if err != nil {
		return "", err
	}
	return TokenPrefix + body, nil
}

// RedactToken returns the loggable form of a token. At least one trailing
// character is always hidden.
func RedactToken(token string) string {
	visible := min(len(token)-1, redactedLength)
	if visible < 0 {
		visible = 0
	}
	return token[:visible] + "..."
}

// NormalizeName applies the default and length limit to a key name.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return string([]rune(name)[:maxNameLength])
	}
	return name
}

// Resolve finds the token equal to, or uniquely prefixed by, ref. A trailing
// "..." from a redacted listing is accepted. Prefixes shorter than the
// redacted form never match.
func Resolve(tokens []string, ref string) (string, error) {
	ref = RevokePrefix(ref)
	if ref == "" {
		return "", ErrNotFound
	}

	match := ""
	for _, token := range tokens {
		if token == ref {
			return token, nil
		}
		if len(ref) >= redactedLength && strings.HasPrefix(token, ref) {
			if match != "" {
				return "", ErrAmbiguous
			}
			match = token
		}
	}
	if match == "" {
		return "", ErrNotFound
	}
	return match, nil
}

// RevokePrefix returns the lookup prefix for ref with any redaction suffix
// removed.
func RevokePrefix(ref string) string {
	return strings.TrimSuffix(strings.TrimSpace(ref), "...")
}
