//go:build !tray
// +build !tray

package main

import (
	"context"
	"errors"
)

var errNoTray = errors.New("built without tray support, rebuild with -tags tray")

func runTray(ctx context.Context, openEditor func()) error {
	return errNoTray
}
