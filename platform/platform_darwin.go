//go:build darwin
// +build darwin

package platform

import (
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	return filepath.Join(UserHomeDir(), "Library", "Application Support", AppDisplayName)
}

func openFile(path string) error {
	return exec.Command("open", path).Start()
}
