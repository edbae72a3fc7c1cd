// Package signature verifies GitHub-style HMAC-SHA256 webhook signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// AlgorithmSHA256 is the only tag accepted in a signature header.
	AlgorithmSHA256 = "sha256"

	// Prefix is the leading part of a SHA-256 signature header value.
	Prefix = AlgorithmSHA256 + "="
)

var (
	ErrInvalidHeaderFormat  = errors.New("invalid signature header format")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrSignatureMismatch    = errors.New("signature mismatch")
)

// Header is a parsed "algorithm=hexdigest" signature header.
type Header struct {
	Algorithm string
	Digest    []byte
}

// ParseHeader parses a header value of the form "algorithm=hexdigest".
// The digest must be non-empty, even-length hexadecimal.
func ParseHeader(value string) (Header, error) {
	tag, hexDigest, found := strings.Cut(value, "=")
	if !found {
		return Header{}, fmt.Errorf("%w: missing '=' separator", ErrInvalidHeaderFormat)
	}
	if tag == "" {
		return Header{}, fmt.Errorf("%w: empty algorithm tag", ErrInvalidHeaderFormat)
	}
	if hexDigest == "" {
		return Header{}, fmt.Errorf("%w: empty digest", ErrInvalidHeaderFormat)
	}
	if len(hexDigest)%2 != 0 {
		return Header{}, fmt.Errorf("%w: odd-length digest", ErrInvalidHeaderFormat)
	}

	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Header{}, fmt.Errorf("%w: digest is not hexadecimal", ErrInvalidHeaderFormat)
	}

	if tag != AlgorithmSHA256 {
		return Header{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, tag)
	}

	return Header{Algorithm: tag, Digest: digest}, nil
}

// Check verifies headerValue against the HMAC-SHA256 of payload keyed with secret.
// It returns nil only on an exact match. Comparison is constant time.
func Check(secret []byte, headerValue string, payload []byte) error {
	header, err := ParseHeader(headerValue)
	if err != nil {
		return err
	}

	if !hmac.Equal(compute(secret, payload), header.Digest) {
		return ErrSignatureMismatch
	}

	return nil
}

// Verify reports whether headerValue is a valid signature of payload.
// Malformed headers yield false.
func Verify(secret []byte, headerValue string, payload []byte) bool {
	return Check(secret, headerValue, payload) == nil
}

// Sign returns the "sha256=<hex>" header value for payload.
func Sign(secret, payload []byte) string {
	return Prefix + hex.EncodeToString(compute(secret, payload))
}

func compute(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
