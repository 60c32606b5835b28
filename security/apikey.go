package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const apiKeyPrefix = "cbk_"

var apiKeyPattern = regexp.MustCompile(`^cbk_[a-f0-9]{64}$`)

// GenerateAPIKey returns a new tenant API key. Only its hash is ever stored.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

// GenerateSecret returns a random hex secret for signing webhooks.
func GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func ValidateAPIKey(key string) error {
	if !apiKeyPattern.MatchString(strings.TrimSpace(key)) {
		return fmt.Errorf("API key must be %q followed by 64 hex characters", apiKeyPrefix)
	}
	return nil
}
