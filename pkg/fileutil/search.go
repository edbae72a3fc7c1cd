// Package fileutil locates configuration files and checks paths.
package fileutil

import (
	"os"
	"path/filepath"
)

// ConfigFileName is the configuration file looked up by default.
const ConfigFileName = "docshook.yaml"

// SystemConfigDir is the system-wide configuration directory.
const SystemConfigDir = "/etc/docshook"

// DefaultConfigPaths returns the config search paths for filename, in order:
// ./<filename>, ./config/<filename>, /etc/docshook/<filename>.
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// SearchPathsOptional returns the first of paths that exists, or "".
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// FindConfigOptional searches the default locations for filename.
// A missing config file is not an error: defaults apply.
func FindConfigOptional(filename string) string {
	return SearchPathsOptional(DefaultConfigPaths(filename))
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
