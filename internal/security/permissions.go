package security

import (
	"fmt"
	"os"
)

const (
	// PermLogFile is for the deployment and process logs: rw-r-----.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the history database: rw-r-----.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories docshook creates: rwxr-x---.
	PermDirectory os.FileMode = 0750
)

// RestrictPermissions tightens path to perm if it currently grants more.
// Missing files are ignored.
func RestrictPermissions(path string, perm os.FileMode) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.Mode().Perm()&^perm == 0 {
		return nil
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to restrict permissions on %s: %w", path, err)
	}
	return nil
}
