package server

import (
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/auth"
	"github.com/stevecastle/stereopair/compositor"
	"github.com/stevecastle/stereopair/depth"
	"github.com/stevecastle/stereopair/editor"
	"github.com/stevecastle/stereopair/exports"
	"github.com/stevecastle/stereopair/gesture"
	"github.com/stevecastle/stereopair/pair"
	"github.com/stevecastle/stereopair/platform"
	"github.com/stevecastle/stereopair/renderer"
)

// readJSONBody decodes the request body into v. An empty body leaves v
// untouched.
func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeJPEG(w http.ResponseWriter, img image.Image) {
	data, err := compositor.JPEGBytes(img, s.opts.JPEGQuality)
	if err != nil {
		s.log.WithError(err).Error("encode view")
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

type sideState struct {
	Source    string     `json:"source"`
	Loaded    bool       `json:"loaded"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	Transform [6]float64 `json:"transform"`
}

type depthState struct {
	State      string         `json:"state"`
	Generation uint64         `json:"generation"`
	Counters   depth.Counters `json:"counters"`
}

type stateResponse struct {
	Mode           pair.Mode  `json:"mode"`
	Linked         bool       `json:"linked"`
	Left           sideState  `json:"left"`
	Right          sideState  `json:"right"`
	SaveSize       [2]int     `json:"saveSize"`
	ProposedOutput string     `json:"proposedOutput,omitempty"`
	Depth          depthState `json:"depth"`
}

func newSideState(s pair.SlotSnapshot) sideState {
	st := sideState{Source: s.Source, Loaded: s.Loaded(), Transform: s.Transform.Coefficients()}
	if s.Loaded() {
		b := s.Pixels.Bounds()
		st.Width, st.Height = b.Dx(), b.Dy()
	}
	return st
}

func (s *Server) state() stateResponse {
	snap := s.deps.Editor.Snapshot()
	resp := stateResponse{
		Mode:     snap.Mode,
		Linked:   snap.Linked,
		Left:     newSideState(snap.Left),
		Right:    newSideState(snap.Right),
		SaveSize: [2]int{snap.SaveSize.X, snap.SaveSize.Y},
	}
	if name, ok := snap.ProposedOutputName(); ok {
		resp.ProposedOutput = name
	}
	if w := s.deps.Worker; w != nil {
		resp.Depth = depthState{
			State:      w.State().String(),
			Generation: w.Store().Generation(),
			Counters:   w.Counters(),
		}
	}
	return resp
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) viewSize() image.Point {
	return compositor.ViewSize(s.deps.Editor.Config().Aspect(), s.opts.ViewScale)
}

type indexData struct {
	State      stateResponse
	Modes      []string
	Sides      []string
	ViewWidth  int
	ViewHeight int
	Exports    []exports.Job
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	size := s.viewSize()
	data := indexData{
		State:      s.state(),
		Modes:      []string{pair.ModeScale.String(), pair.ModeMove.String(), pair.ModeRotate.String(), pair.ModeRotateScale.String()},
		Sides:      []string{pair.Left.String(), pair.Right.String()},
		ViewWidth:  size.X,
		ViewHeight: size.Y,
	}
	if s.deps.Queue != nil {
		data.Exports = s.deps.Queue.GetJobs()
	}
	if err := renderer.Templates().ExecuteTemplate(w, "index", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// healthHandler reports stream, export and depth worker statistics.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	jobStats := map[string]int{"total": 0, "pending": 0, "in_progress": 0, "completed": 0, "error": 0}
	if s.deps.Queue != nil {
		jobs := s.deps.Queue.GetJobs()
		jobStats["total"] = len(jobs)
		for _, job := range jobs {
			switch job.State {
			case exports.StatePending:
				jobStats["pending"]++
			case exports.StateInProgress:
				jobStats["in_progress"]++
			case exports.StateCompleted:
				jobStats["completed"]++
			case exports.StateError:
				jobStats["error"]++
			}
		}
	}
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"exports":   jobStats,
		"depth":     s.state().Depth,
	}
	if s.deps.Hub != nil {
		health["stream"] = s.deps.Hub.Stats()
	}
	writeJSON(w, http.StatusOK, health)
}

// -----------------------------------------------------------------------------
// Images
// -----------------------------------------------------------------------------

func (s *Server) viewHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("file"), ".jpg")
	side, err := pair.ParseSide(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	snap := s.deps.Editor.Snapshot()
	s.writeJPEG(w, compositor.RenderView(snap.Side(side), s.viewSize(), compositor.Preview))
}

func (s *Server) compositeHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Editor.Snapshot()
	size := snap.Aspect.Size(s.opts.ViewScale)
	s.writeJPEG(w, compositor.Composite(snap, size, compositor.Preview))
}

// depthHandler serves the latest depth image, or a black placeholder before
// the first pass. ?format=png returns it losslessly.
func (s *Server) depthHandler(w http.ResponseWriter, r *http.Request) {
	var img image.Image
	if s.deps.Worker != nil {
		if cur, _ := s.deps.Worker.Store().Current(); cur != nil {
			img = cur
		}
	}
	if img == nil {
		img = image.NewGray(image.Rect(0, 0, s.opts.DepthSize.X/2, s.opts.DepthSize.Y))
	}
	if r.URL.Query().Get("format") == "png" {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := compositor.EncodePNG(w, img); err != nil {
			s.log.WithError(err).Warn("encode depth png")
		}
		return
	}
	s.writeJPEG(w, img)
}

// -----------------------------------------------------------------------------
// Editing
// -----------------------------------------------------------------------------

type sideRequest struct {
	Side string `json:"side"`
}

func parseSideRequest(w http.ResponseWriter, r *http.Request) (pair.Side, bool) {
	var req sideRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return 0, false
	}
	side, err := pair.ParseSide(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return side, true
}

// editorError maps editor failures onto status codes.
func (s *Server) editorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, editor.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, gesture.ErrNotDragging), errors.Is(err, editor.ErrNoHistory):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loadHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side string `json:"side"`
		Path string `json:"path"`
	}
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	side, err := pair.ParseSide(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" || !filepath.IsAbs(path) {
		http.Error(w, "path must be absolute", http.StatusBadRequest)
		return
	}
	if err := s.deps.Editor.Load(side, path); err != nil {
		if errors.Is(err, editor.ErrClosed) {
			s.editorError(w, err)
			return
		}
		// The side is now empty; the page shows the message.
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.ok(w)
}

func (s *Server) rotateHandler(w http.ResponseWriter, r *http.Request) {
	side, ok := parseSideRequest(w, r)
	if !ok {
		return
	}
	if err := s.deps.Editor.Rotate90(side); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	side, ok := parseSideRequest(w, r)
	if !ok {
		return
	}
	if err := s.deps.Editor.Reset(side); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	mode, err := pair.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	linked, err := s.deps.Editor.SetMode(mode)
	if err != nil {
		s.editorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": mode, "linked": linked})
}

func (s *Server) linkedHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Linked bool `json:"linked"`
	}
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.deps.Editor.SetLinked(req.Linked); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

// pointRequest carries a mouse position in view pixels. W and H give the
// view size the page measured against; press uses them as the image rect.
type pointRequest struct {
	Side string  `json:"side"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

func (s *Server) pressHandler(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	side, err := pair.ParseSide(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.W <= 0 || req.H <= 0 {
		size := s.viewSize()
		req.W, req.H = float64(size.X), float64(size.Y)
	}
	rect := affine.Rect{Max: affine.Point{X: req.W, Y: req.H}}
	if err := s.deps.Editor.Press(side, rect, affine.Point{X: req.X, Y: req.Y}); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) moveHandler(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.deps.Editor.Move(affine.Point{X: req.X, Y: req.Y}); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) releaseHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Editor.Release(); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

func (s *Server) restoreHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		http.Error(w, "no export history", http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Editor.Restore(s.deps.Queue); err != nil {
		s.editorError(w, err)
		return
	}
	s.ok(w)
}

// -----------------------------------------------------------------------------
// Exports
// -----------------------------------------------------------------------------

func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queue(w)
	if !ok {
		return
	}
	var req struct {
		Output string `json:"output"`
	}
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	snap := s.deps.Editor.Snapshot()
	output := strings.TrimSpace(req.Output)
	if output == "" {
		name, ok := snap.ProposedOutputName()
		if !ok {
			http.Error(w, exports.ErrNotLoaded.Error(), http.StatusConflict)
			return
		}
		output = name
	} else if !filepath.IsAbs(output) {
		http.Error(w, "output must be absolute", http.StatusBadRequest)
		return
	}
	id, err := queue.AddJob(snap, output)
	if err != nil {
		if errors.Is(err, exports.ErrNotLoaded) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "output": output})
}

// exportsHandler lists the export history as JSON, or as CSV with
// ?format=csv.
func (s *Server) exportsHandler(w http.ResponseWriter, r *http.Request) {
	jobs := []exports.Job{}
	if s.deps.Queue != nil {
		jobs = s.deps.Queue.GetJobs()
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="exports.csv"`)
		if err := exports.WriteCSV(w, jobs); err != nil {
			s.log.WithError(err).Warn("write exports csv")
		}
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// queue returns the export queue, answering 503 when exports are disabled.
func (s *Server) queue(w http.ResponseWriter) (*exports.Queue, bool) {
	if s.deps.Queue == nil {
		http.Error(w, "exports disabled", http.StatusServiceUnavailable)
		return nil, false
	}
	return s.deps.Queue, true
}

func (s *Server) removeExportHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queue(w)
	if !ok {
		return
	}
	if err := q.RemoveJob(r.PathValue("id")); err != nil {
		switch {
		case errors.Is(err, exports.ErrJobNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, exports.ErrInvalidState):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	s.ok(w)
}

func (s *Server) clearExportsHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queue(w)
	if !ok {
		return
	}
	n := q.ClearFinished()
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// openExportHandler shows a written export in the desktop's image viewer.
func (s *Server) openExportHandler(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queue(w)
	if !ok {
		return
	}
	job, ok := q.GetJob(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if job.State != exports.StateCompleted {
		http.Error(w, "export not written", http.StatusConflict)
		return
	}
	if err := platform.OpenFile(job.Output); err != nil {
		s.log.WithError(err).WithField("path", job.Output).Warn("open export")
		http.Error(w, "failed to open path", http.StatusInternalServerError)
		return
	}
	s.ok(w)
}

// -----------------------------------------------------------------------------
// Auth
// -----------------------------------------------------------------------------

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		s.ok(w)
		return
	}
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := readJSONBody(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	token, err := s.deps.Auth.Login(req.Passphrase)
	switch {
	case errors.Is(err, auth.ErrNoPassphrase):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s.deps.Auth.SetCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
