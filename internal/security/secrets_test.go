package security

import (
	"strings"
	"testing"
)

func TestSecretWarnings(t *testing.T) {
	tests := []struct {
		name         string
		secret       string
		wantWarnings int
		wantContains string
	}{
		{
			"strong random secret",
			"kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6",
			0,
			"",
		},
		{
			"too short",
			"kJ8mN2pQ5tR7",
			1,
			"shorter than 32",
		},
		{
			"placeholder",
			"please-replace-this-with-a-real-value-kJ8mN2pQ5tR7",
			1,
			"placeholder",
		},
		{
			"low entropy",
			strings.Repeat("ab", 40),
			1,
			"low entropy",
		},
		{
			"empty",
			"",
			2,
			"shorter than 32",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := SecretWarnings([]byte(tt.secret))
			if len(warnings) != tt.wantWarnings {
				t.Fatalf("SecretWarnings() = %v, want %d warnings", warnings, tt.wantWarnings)
			}
			if tt.wantContains != "" && !strings.Contains(strings.Join(warnings, "\n"), tt.wantContains) {
				t.Errorf("SecretWarnings() = %v, want a warning containing %q", warnings, tt.wantContains)
			}
			for _, w := range warnings {
				if tt.secret != "" && strings.Contains(w, tt.secret) {
					t.Errorf("warning %q leaks the secret", w)
				}
			}
		})
	}
}

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret([]byte("kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6")); err != nil {
		t.Errorf("ValidateSecret() error = %v, want nil", err)
	}

	err := ValidateSecret([]byte("changeme"))
	if err == nil {
		t.Fatal("ValidateSecret() should reject a short placeholder")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("ValidateSecret() = %v, want every weakness joined", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		secret, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret() error = %v", err)
		}
		if len(secret) != 48 {
			t.Errorf("GenerateSecret() length = %d, want 48", len(secret))
		}
		if seen[secret] {
			t.Error("GenerateSecret() generated a duplicate secret")
		}
		seen[secret] = true
	}
}

func TestShannonEntropy(t *testing.T) {
	tests := []struct {
		input    string
		min, max float64
	}{
		{"", 0, 0},
		{"aaaaaaa", 0, 0},
		{"ababababab", 1, 1},
		{"abcdefghij", 3.3, 3.4},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := shannonEntropy(tt.input)
			if got < tt.min || got > tt.max {
				t.Errorf("shannonEntropy(%q) = %.2f, want between %.2f and %.2f", tt.input, got, tt.min, tt.max)
			}
		})
	}
}
