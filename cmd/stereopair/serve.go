package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/stevecastle/stereopair/appconfig"
	"github.com/stevecastle/stereopair/auth"
	"github.com/stevecastle/stereopair/depth"
	"github.com/stevecastle/stereopair/editor"
	"github.com/stevecastle/stereopair/exports"
	"github.com/stevecastle/stereopair/pair"
	"github.com/stevecastle/stereopair/runners"
	"github.com/stevecastle/stereopair/server"
	"github.com/stevecastle/stereopair/stream"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve [left] [right]",
		Short: "Run the interactive editor",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runServe,
	}
	serveAddr        string
	serveNoBrowser   bool
	serveTray        bool
	serveForceLinked bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoBrowser, "no-browser", false, "do not open the editor in a browser")
	serveCmd.Flags().BoolVar(&serveTray, "tray", false, "show a system tray icon (binaries built with -tags tray)")
	serveCmd.Flags().BoolVar(&serveForceLinked, "force-linked-on-scale", false, "link both sides whenever scale mode is chosen")
}

func initDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// startURL is the address a local browser should open.
func startURL(addr, token string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = "localhost", "8091"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/?token=%s", net.JoinHostPort(host, port), token)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveForceLinked {
		cfg.ForceLinkedOnScale = true
	}
	logrus.WithField("config", cfgPath).Info("configuration loaded")

	db, err := initDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	logrus.WithField("path", cfg.DBPath).Info("connected to SQLite database")

	hub := stream.NewHub()
	queue, err := exports.NewQueueWithDB(db, hub)
	if err != nil {
		return err
	}
	logrus.Infof("export history loaded: %d jobs", len(queue.GetJobs()))
	run := runners.New(queue, runners.CompositeExport(cfg.JPEGQuality), cfg.ExportRunners)

	pairCfg := pair.New(pairOptions(cfg))
	worker := depth.NewWorker(pairCfg, depth.NewStore(), depth.Options{
		Size: image.Pt(cfg.Depth.Width, cfg.Depth.Height),
		Params: depth.Params{
			NumDisparities: cfg.Depth.NumDisparities,
			BlockSize:      cfg.Depth.BlockSize,
			Workers:        cfg.Depth.Workers,
		},
		Divisor: cfg.Depth.Divisor,
		OnReady: server.DepthReady(hub),
	})
	ed := editor.New(pairCfg, worker, server.EditorPublisher(hub))
	ed.Start()

	authSvc := auth.NewAuthService(cfg.JWTSecret, cfg.PassphraseHash)
	token, err := authSvc.Issue("startup")
	if err != nil {
		return fmt.Errorf("issue session token: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.New(server.Dependencies{
			Editor: ed,
			Worker: worker,
			Queue:  queue,
			Hub:    hub,
			Auth:   authSvc,
		}, server.Options{
			ViewScale:   cfg.ViewScale,
			JPEGQuality: cfg.JPEGQuality,
			DepthSize:   image.Pt(cfg.Depth.Width, cfg.Depth.Height),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http server")
		}
	}()

	url := startURL(cfg.Addr, token)
	logrus.Infof("editor running at %s", url)

	for i, path := range args {
		side := pair.Side(i)
		if err := ed.Load(side, absPath(path)); err != nil {
			logrus.WithError(err).WithField("side", side).Warn("could not preload image")
		}
	}

	openEditor := func() {
		if err := browser.OpenURL(url); err != nil {
			logrus.WithError(err).Warn("could not open browser")
		}
	}
	if cfg.OpenBrowser && !serveNoBrowser {
		openEditor()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if serveTray {
		if err := runTray(ctx, openEditor); err != nil {
			logrus.WithError(err).Warn("tray unavailable, waiting for a signal")
			<-ctx.Done()
		}
	} else {
		<-ctx.Done()
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run.Shutdown()
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http server shutdown")
	}
	if err := ed.Close(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("editor shutdown")
	}
	if err := worker.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, depth.ErrTeardown) {
			logrus.WithError(err).Fatal("depth worker did not stop")
		}
		return err
	}
	logrus.Info("shutdown complete")
	return nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// saveConfig persists cfg where it was loaded from.
func saveConfig(cfg appconfig.Config) (string, error) {
	if configPath != "" {
		return configPath, appconfig.SaveTo(configPath, cfg)
	}
	return appconfig.Save(cfg)
}
