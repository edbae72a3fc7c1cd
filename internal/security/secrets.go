// Package security holds webhook secret hygiene checks and the file
// permissions used for docshook's log and database files.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the shortest secret accepted without a warning.
	MinSecretLength = 32

	// MinEntropy is the Shannon entropy (bits per character) below which a
	// secret is reported as guessable.
	MinEntropy = 3.5

	// generatedSecretBytes encodes to 48 base64 characters.
	generatedSecretBytes = 36
)

var placeholderFragments = []string{
	"replace",
	"changeme",
	"topsecret",
	"password",
	"your-secret",
	"webhook-secret",
}

// SecretWarnings lists the weaknesses of a webhook secret. An empty result
// means the secret looks strong. The secret itself never appears in the output.
func SecretWarnings(secret []byte) []string {
	var warnings []string

	if len(secret) < MinSecretLength {
		warnings = append(warnings, fmt.Sprintf("secret is shorter than %d characters (got %d)", MinSecretLength, len(secret)))
	}

	lower := strings.ToLower(string(secret))
	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			warnings = append(warnings, "secret looks like a placeholder value")
			break
		}
	}

	if entropy := shannonEntropy(string(secret)); entropy < MinEntropy {
		warnings = append(warnings, fmt.Sprintf("secret has low entropy (%.2f < %.2f bits per character)", entropy, MinEntropy))
	}

	return warnings
}

// ValidateSecret returns an error describing every weakness of secret.
func ValidateSecret(secret []byte) error {
	warnings := SecretWarnings(secret)
	if len(warnings) == 0 {
		return nil
	}
	return errors.New(strings.Join(warnings, "; "))
}

// GenerateSecret creates a random 48-character URL-safe secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// shannonEntropy returns H = -Σ p(x)·log2 p(x) over the characters of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, c := range s {
		freq[c]++
		total++
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
