// Package profile resolves the active account profile and its on-disk
// layout under ~/.tarpconnect.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.tarpconnect.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tarpconnect")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the SQLite database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "connect.db")
}

// KVDir returns the fallback key-value directory for a profile.
func KVDir(name string) string {
	return filepath.Join(Dir(name), "kv")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "connectd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with restrictive perms.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), KVDir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
