//go:build tray
// +build tray

package main

import (
	"context"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"
)

// runTray shows the tray icon and blocks until Quit is chosen or ctx ends.
func runTray(ctx context.Context, openEditor func()) error {
	icon, err := trayIcon()
	if err != nil {
		return err
	}

	onReady := func() {
		systray.SetTemplateIcon(icon, icon)
		systray.SetTitle("Stereo Pair")
		systray.SetTooltip("Stereo Pair: click to open the editor")

		openItem := systray.AddMenuItem("Open editor", "Launch the browser")
		systray.AddSeparator()
		quitItem := systray.AddMenuItem("Quit", "Shut down Stereo Pair")

		go func() {
			for {
				select {
				case <-openItem.ClickedCh:
					openEditor()
				case <-quitItem.ClickedCh:
					systray.Quit()
					return
				case <-ctx.Done():
					systray.Quit()
					return
				}
			}
		}()
	}
	onExit := func() {
		logrus.Info("tray closed")
	}

	systray.Run(onReady, onExit)
	return nil
}
