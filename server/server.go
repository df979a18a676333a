// Package server exposes the editor over HTTP: JPEG views, JSON state, SSE
// events and the POST commands the page sends while the user drags.
package server

import (
	"encoding/json"
	"image"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/stevecastle/stereopair/auth"
	"github.com/stevecastle/stereopair/compositor"
	"github.com/stevecastle/stereopair/depth"
	"github.com/stevecastle/stereopair/editor"
	"github.com/stevecastle/stereopair/exports"
	"github.com/stevecastle/stereopair/renderer"
	"github.com/stevecastle/stereopair/stream"
)

// Options tune rendering of the HTTP views.
type Options struct {
	// ViewScale multiplies the pair aspect for each side's view.
	ViewScale   int
	JPEGQuality int
	// DepthSize is the size of the placeholder served before the first
	// depth image exists.
	DepthSize image.Point
}

// Dependencies are the long-lived parts the handlers use.
type Dependencies struct {
	Editor *editor.Editor
	Worker *depth.Worker
	Queue  *exports.Queue
	Hub    *stream.Hub
	Auth   *auth.AuthService
}

// Server holds the handlers.
type Server struct {
	deps Dependencies
	opts Options
	log  *logrus.Entry
}

// New returns a server. When deps.Auth is set, editing routes require a
// session token.
func New(deps Dependencies, opts Options) *Server {
	if opts.ViewScale <= 0 {
		opts.ViewScale = 50
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = compositor.DefaultJPEGQuality
	}
	if opts.DepthSize.X <= 0 || opts.DepthSize.Y <= 0 {
		opts.DepthSize = depth.DefaultSize
	}
	if deps.Auth != nil {
		renderer.AuthMiddleware = deps.Auth.Middleware
	} else {
		renderer.AuthMiddleware = nil
	}
	return &Server{deps: deps, opts: opts, log: logrus.WithField("component", "server")}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	const (
		public = renderer.RolePublic
		edit   = renderer.RoleEditor
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", renderer.ApplyMiddlewares(s.homeHandler, public))
	mux.Handle("GET /stream", s.deps.Hub)
	mux.HandleFunc("GET /health", renderer.ApplyMiddlewares(s.healthHandler, public))
	mux.HandleFunc("GET /state", renderer.ApplyMiddlewares(s.stateHandler, public))
	mux.HandleFunc("GET /view/{file}", renderer.ApplyMiddlewares(s.viewHandler, public))
	mux.HandleFunc("GET /composite.jpg", renderer.ApplyMiddlewares(s.compositeHandler, public))
	mux.HandleFunc("GET /depth.jpg", renderer.ApplyMiddlewares(s.depthHandler, public))
	mux.HandleFunc("GET /exports", renderer.ApplyMiddlewares(s.exportsHandler, public))
	mux.HandleFunc("POST /login", renderer.ApplyMiddlewares(s.loginHandler, public))

	mux.HandleFunc("POST /load", renderer.ApplyMiddlewares(s.loadHandler, edit))
	mux.HandleFunc("POST /rotate", renderer.ApplyMiddlewares(s.rotateHandler, edit))
	mux.HandleFunc("POST /reset", renderer.ApplyMiddlewares(s.resetHandler, edit))
	mux.HandleFunc("POST /mode", renderer.ApplyMiddlewares(s.modeHandler, edit))
	mux.HandleFunc("POST /linked", renderer.ApplyMiddlewares(s.linkedHandler, edit))
	mux.HandleFunc("POST /gesture/press", renderer.ApplyMiddlewares(s.pressHandler, edit))
	mux.HandleFunc("POST /gesture/move", renderer.ApplyMiddlewares(s.moveHandler, edit))
	mux.HandleFunc("POST /gesture/release", renderer.ApplyMiddlewares(s.releaseHandler, edit))
	mux.HandleFunc("POST /restore", renderer.ApplyMiddlewares(s.restoreHandler, edit))
	mux.HandleFunc("POST /save", renderer.ApplyMiddlewares(s.saveHandler, edit))
	mux.HandleFunc("POST /exports/{id}/remove", renderer.ApplyMiddlewares(s.removeExportHandler, edit))
	mux.HandleFunc("POST /exports/{id}/open", renderer.ApplyMiddlewares(s.openExportHandler, edit))
	mux.HandleFunc("POST /exports/clear", renderer.ApplyMiddlewares(s.clearExportsHandler, edit))
	return mux
}

// EditorPublisher forwards editor events to the hub.
func EditorPublisher(hub *stream.Hub) editor.Publisher {
	return func(ev editor.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		hub.Broadcast(stream.Message{Type: ev.Type, Msg: string(b)})
	}
}

// DepthReady forwards published depth images to the hub.
func DepthReady(hub *stream.Hub) func(depth.Result) {
	return func(res depth.Result) {
		b, err := json.Marshal(res)
		if err != nil {
			return
		}
		hub.Broadcast(stream.Message{Type: "depth-ready", Msg: string(b)})
	}
}
