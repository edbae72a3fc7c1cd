// Package deploylog appends a human-readable record of every deployment
// attempt to a plain-text log file. The file is never truncated or rotated.
package deploylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"docshook/internal/deployment"
	"docshook/internal/security"
)

// DefaultPath is the deployment log location relative to the working directory.
const DefaultPath = "deployment.log"

// Logger appends deployment attempts to a file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// New creates a logger writing to path. The file is created on first Append.
func New(path string) *Logger {
	return &Logger{path: path}
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// Append writes one block for the attempt. The file is opened in append mode
// for each call and closed before returning, including on write errors.
func (l *Logger) Append(attempt deployment.Attempt) (err error) {
	block := Format(attempt)

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, security.PermDirectory); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return fmt.Errorf("failed to open deployment log: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close deployment log: %w", closeErr)
		}
	}()

	// One write per block keeps blocks contiguous under O_APPEND.
	if _, err := file.WriteString(block); err != nil {
		return fmt.Errorf("failed to write deployment log: %w", err)
	}

	return nil
}

// Format renders the log block for an attempt: header with timestamp and
// status, then stdout, stderr and (when present) the error detail.
func Format(attempt deployment.Attempt) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== deployment %s %s ===\n", attempt.Timestamp.UTC().Format(time.RFC3339), attempt.Status)
	b.WriteString("--- stdout ---\n")
	writeSection(&b, attempt.Stdout)
	b.WriteString("--- stderr ---\n")
	writeSection(&b, attempt.Stderr)
	if detail := attempt.ErrorDetail(); detail != "" {
		b.WriteString("--- error ---\n")
		writeSection(&b, detail)
	}
	b.WriteString("=== end ===\n\n")

	return b.String()
}

func writeSection(b *strings.Builder, s string) {
	b.WriteString(s)
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}
