package exports

import (
	"database/sql"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/pair"
	"github.com/stevecastle/stereopair/stream"
)

type recorder struct {
	mu   sync.Mutex
	msgs []stream.Message
}

func (r *recorder) Broadcast(m stream.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) updateTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, m := range r.msgs {
		var s struct {
			UpdateType string `json:"updateType"`
		}
		json.Unmarshal([]byte(m.Msg), &s)
		types = append(types, s.UpdateType)
	}
	return types
}

func openTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestQueue(t *testing.T, hub Broadcaster) *Queue {
	q, err := NewQueueWithDB(openTestDB(t), hub)
	if err != nil {
		t.Fatalf("NewQueueWithDB: %v", err)
	}
	return q
}

func loadedSnapshot(left, right string) pair.Snapshot {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	return pair.Snapshot{
		Left:     pair.SlotSnapshot{Source: left, Pixels: img, Preview: img, Transform: affine.Translate(0.1, 0)},
		Right:    pair.SlotSnapshot{Source: right, Pixels: img, Preview: img, Transform: affine.Scale(1.5, 1.5)},
		Aspect:   pair.DefaultAspect,
		SaveSize: image.Pt(32, 18),
	}
}

func TestAddJobRequiresBothSides(t *testing.T) {
	q := NewQueue(nil)
	snap := loadedSnapshot("/a/l.jpg", "/a/r.jpg")
	snap.Right = pair.SlotSnapshot{}
	if _, err := q.AddJob(snap, "/a/out.jpg"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("AddJob err = %v; want ErrNotLoaded", err)
	}
	if len(q.GetJobs()) != 0 {
		t.Error("no job should be queued")
	}
}

func TestJobLifecycle(t *testing.T) {
	hub := &recorder{}
	q := setupTestQueue(t, hub)

	id, err := q.AddJob(loadedSnapshot("/a/l.jpg", "/a/r.jpg"), "/a/l-r.jpg")
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	select {
	case got := <-q.Signal:
		if got != id {
			t.Errorf("signal = %q; want %q", got, id)
		}
	default:
		t.Error("AddJob should signal")
	}

	job, err := q.ClaimJob()
	if err != nil || job == nil {
		t.Fatalf("ClaimJob = %v, %v", job, err)
	}
	if job.ID != id || job.State != StateInProgress {
		t.Errorf("claimed %s in state %s", job.ID, job.State)
	}
	if job.Snapshot == nil {
		t.Fatal("claimed job should carry its snapshot")
	}
	if next, _ := q.ClaimJob(); next != nil {
		t.Error("second claim should find nothing")
	}

	if err := q.CompleteJob(id); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, ok := q.GetJob(id)
	if !ok || got.State != StateCompleted || got.CompletedAt.IsZero() {
		t.Errorf("job after complete = %+v", got)
	}
	if got.Snapshot != nil {
		t.Error("completed job should release its snapshot")
	}
	if err := q.CompleteJob(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second CompleteJob err = %v; want ErrInvalidState", err)
	}

	want := []string{"create", "update", "update"}
	types := hub.updateTypes()
	if len(types) != len(want) {
		t.Fatalf("events = %v; want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %q; want %q", i, types[i], want[i])
		}
	}
}

func TestErrorJob(t *testing.T) {
	q := NewQueue(nil)
	id, _ := q.AddJob(loadedSnapshot("/l.jpg", "/r.jpg"), "/out.jpg")
	if err := q.ErrorJob(id, errors.New("x")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ErrorJob on pending err = %v", err)
	}
	q.ClaimJob()
	if err := q.ErrorJob(id, errors.New("disk full")); err != nil {
		t.Fatalf("ErrorJob: %v", err)
	}
	job, _ := q.GetJob(id)
	if job.State != StateError || job.Message != "disk full" {
		t.Errorf("job = %s %q", job.State, job.Message)
	}
	if err := q.ErrorJob("missing", nil); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job err = %v", err)
	}
}

func TestGetJobsNewestFirst(t *testing.T) {
	q := NewQueue(nil)
	first, _ := q.AddJob(loadedSnapshot("/1l.jpg", "/1r.jpg"), "/1.jpg")
	second, _ := q.AddJob(loadedSnapshot("/2l.jpg", "/2r.jpg"), "/2.jpg")
	jobs := q.GetJobs()
	if len(jobs) != 2 || jobs[0].ID != second || jobs[1].ID != first {
		t.Errorf("GetJobs order wrong: %v", jobs)
	}
}

func TestLastForPair(t *testing.T) {
	q := setupTestQueue(t, nil)
	snap := loadedSnapshot("/p/l.jpg", "/p/r.jpg")

	if _, ok := q.LastForPair("/p/l.jpg", "/p/r.jpg"); ok {
		t.Fatal("no history expected yet")
	}

	old, _ := q.AddJob(snap, "/p/out.jpg")
	q.ClaimJob()
	q.CompleteJob(old)

	snap.Left.Transform = affine.Translate(0.25, 0)
	newer, _ := q.AddJob(snap, "/p/out.jpg")
	q.ClaimJob()
	q.CompleteJob(newer)

	// Pending exports are not history.
	q.AddJob(loadedSnapshot("/p/l.jpg", "/p/r.jpg"), "/p/out.jpg")

	job, ok := q.LastForPair("/p/l.jpg", "/p/r.jpg")
	if !ok || job.ID != newer {
		t.Fatalf("LastForPair = %v, %v; want %s", job.ID, ok, newer)
	}
	if !job.LeftTransform.ApproxEqual(affine.Translate(0.25, 0), 1e-12) {
		t.Errorf("left transform = %v", job.LeftTransform)
	}
	if _, ok := q.LastForPair("/p/r.jpg", "/p/l.jpg"); ok {
		t.Error("sides are ordered")
	}
}

func TestReloadFromDB(t *testing.T) {
	db := openTestDB(t)
	q, err := NewQueueWithDB(db, nil)
	if err != nil {
		t.Fatalf("NewQueueWithDB: %v", err)
	}
	done, _ := q.AddJob(loadedSnapshot("/l.jpg", "/r.jpg"), "/done.jpg")
	q.ClaimJob()
	q.CompleteJob(done)
	pending, _ := q.AddJob(loadedSnapshot("/l.jpg", "/r.jpg"), "/pending.jpg")

	reloaded, err := NewQueueWithDB(db, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.GetJobs()) != 2 {
		t.Fatalf("reloaded %d jobs; want 2", len(reloaded.GetJobs()))
	}

	job, _ := reloaded.GetJob(done)
	if job.State != StateCompleted {
		t.Errorf("completed job state = %s", job.State)
	}
	if !job.RightTransform.ApproxEqual(affine.Scale(1.5, 1.5), 1e-12) {
		t.Errorf("right transform = %v", job.RightTransform)
	}

	job, _ = reloaded.GetJob(pending)
	if job.State != StateError || job.Message != "interrupted by restart" {
		t.Errorf("pending job after restart = %s %q", job.State, job.Message)
	}
	if j, _ := reloaded.ClaimJob(); j != nil {
		t.Error("nothing should be claimable after restart")
	}
}

func TestRemoveAndClear(t *testing.T) {
	hub := &recorder{}
	q := setupTestQueue(t, hub)
	a, _ := q.AddJob(loadedSnapshot("/l.jpg", "/r.jpg"), "/a.jpg")
	b, _ := q.AddJob(loadedSnapshot("/l.jpg", "/r.jpg"), "/b.jpg")
	c, _ := q.AddJob(loadedSnapshot("/l.jpg", "/r.jpg"), "/c.jpg")

	q.ClaimJob() // a
	if err := q.RemoveJob(a); !errors.Is(err, ErrInvalidState) {
		t.Errorf("removing a running job err = %v", err)
	}
	q.CompleteJob(a)
	q.ClaimJob() // b
	q.ErrorJob(b, errors.New("boom"))

	if n := q.ClearFinished(); n != 2 {
		t.Errorf("ClearFinished = %d; want 2", n)
	}
	if err := q.RemoveJob(c); err != nil {
		t.Errorf("RemoveJob: %v", err)
	}
	if err := q.RemoveJob(c); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second RemoveJob err = %v", err)
	}
	if len(q.GetJobs()) != 0 {
		t.Error("queue should be empty")
	}

	var count int
	q.Db.QueryRow("SELECT COUNT(*) FROM exports").Scan(&count)
	if count != 0 {
		t.Errorf("%d rows left in database", count)
	}
}

func TestJobStateJSON(t *testing.T) {
	tests := []struct {
		state JobState
		want  string
	}{
		{StatePending, `"pending"`},
		{StateInProgress, `"in_progress"`},
		{StateCompleted, `"completed"`},
		{StateError, `"error"`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.state)
		if err != nil || string(b) != tt.want {
			t.Errorf("Marshal(%s) = %s, %v; want %s", tt.state, b, err, tt.want)
		}
		var back JobState
		if err := json.Unmarshal(b, &back); err != nil || back != tt.state {
			t.Errorf("Unmarshal(%s) = %s, %v", b, back, err)
		}
	}
}
