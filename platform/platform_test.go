//go:build linux

package platform

import (
	"path/filepath"
	"testing"
)

func TestGetDataDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	if got, want := GetDataDir(), filepath.Join("/tmp/xdg-data", AppName); got != want {
		t.Errorf("GetDataDir() = %q; want %q", got, want)
	}
}

func TestGetDataDirFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/tester")
	if got, want := GetDataDir(), "/home/tester/.local/share/stereopair"; got != want {
		t.Errorf("GetDataDir() = %q; want %q", got, want)
	}
}
