package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// SessionPrefix identifies session identifiers
	SessionPrefix = "sess_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates unguessable opaque identifiers
type TokenGenerator struct {
	prefix string
}

// NewTokenGenerator creates a generator for identifiers with the given prefix
func NewTokenGenerator(prefix string) *TokenGenerator {
	return &TokenGenerator{prefix: prefix}
}

// NewSessionIDGenerator creates a generator for session identifiers
func NewSessionIDGenerator() *TokenGenerator {
	return NewTokenGenerator(SessionPrefix)
}

// Generate creates a new identifier
// Format: <prefix><base64url(32 random bytes)>
func (tg *TokenGenerator) Generate() (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return tg.prefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// ValidateFormat checks if an identifier has the expected shape
func (tg *TokenGenerator) ValidateFormat(token string) error {
	if !strings.HasPrefix(token, tg.prefix) {
		return fmt.Errorf("token must start with %q", tg.prefix)
	}

	encodedPart := strings.TrimPrefix(token, tg.prefix)
	decoded, err := base64.RawURLEncoding.DecodeString(encodedPart)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(decoded) != TokenLength {
		return fmt.Errorf("token has %d random bytes, want %d", len(decoded), TokenLength)
	}

	return nil
}

// DisplayPrefix returns a short, loggable prefix of an identifier
func (tg *TokenGenerator) DisplayPrefix(token string) string {
	encodedPart := strings.TrimPrefix(token, tg.prefix)
	if len(encodedPart) >= 8 {
		return tg.prefix + encodedPart[:8]
	}
	return tg.prefix
}
