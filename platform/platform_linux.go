//go:build linux
// +build linux

package platform

import (
	"os"
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	// XDG Base Directory Specification
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, AppName)
	}
	return filepath.Join(UserHomeDir(), ".local", "share", AppName)
}

func openFile(path string) error {
	return exec.Command("xdg-open", path).Start()
}
