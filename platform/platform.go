// Package platform locates per-user directories and opens files with the
// desktop's default application.
package platform

import (
	"os"
)

// AppName is the application name used for directory naming
const AppName = "stereopair"

// AppDisplayName is the display name used on Windows and macOS
const AppDisplayName = "Stereo Pair"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Stereo Pair
// macOS: ~/Library/Application Support/Stereo Pair
// Linux: $XDG_DATA_HOME/stereopair or ~/.local/share/stereopair
func GetDataDir() string {
	return getDataDir()
}

// OpenFile opens a file or directory with the default application.
func OpenFile(path string) error {
	return openFile(path)
}

// UserHomeDir returns the user's home directory with proper fallbacks.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
