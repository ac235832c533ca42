package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.indexhost/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".indexhost", "logs")
	}
	return filepath.Join(home, ".indexhost", "logs")
}

// DefaultLogPath returns the default host log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "indexhost.log")
}
