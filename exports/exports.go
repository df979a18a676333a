// Package exports queues writes of the full resolution composite to disk.
// Jobs are kept in memory with their pair snapshot and mirrored to sqlite so
// the history of saved pairs and their alignment survives restarts.
package exports

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/pair"
	"github.com/stevecastle/stereopair/stream"
)

// JobState represents the current state of an export.
type JobState int

const (
	StatePending JobState = iota
	StateInProgress
	StateCompleted
	StateError
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrNotLoaded    = errors.New("both sides must be loaded")
	ErrInvalidState = errors.New("job is not in a valid state for this operation")
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInProgress:
		return "InProgress"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalJSON serializes JobState as a lowercase string for JSON.
func (s JobState) MarshalJSON() ([]byte, error) {
	var str string
	switch s {
	case StatePending:
		str = "pending"
	case StateInProgress:
		str = "in_progress"
	case StateCompleted:
		str = "completed"
	case StateError:
		str = "error"
	default:
		str = "unknown"
	}
	return json.Marshal(str)
}

// UnmarshalJSON deserializes JobState from a string.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "in_progress":
		*s = StateInProgress
	case "completed":
		*s = StateCompleted
	case "error":
		*s = StateError
	default:
		*s = StatePending
	}
	return nil
}

// Job is one export of the pair to a JPEG file.
type Job struct {
	ID             string           `json:"id"`
	Left           string           `json:"left"`
	Right          string           `json:"right"`
	Output         string           `json:"output"`
	LeftTransform  affine.Transform `json:"leftTransform"`
	RightTransform affine.Transform `json:"rightTransform"`
	State          JobState         `json:"state"`
	Message        string           `json:"message,omitempty"`

	// Snapshot holds the pixels to render. It is only present for jobs
	// created in this process.
	Snapshot *pair.Snapshot `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at"`
	ErroredAt   time.Time `json:"errored_at"`
}

// Broadcaster receives job updates.
type Broadcaster interface {
	Broadcast(stream.Message)
}

// Queue is a thread-safe FIFO of export jobs.
type Queue struct {
	mu       sync.Mutex
	Jobs     map[string]*Job
	JobOrder []string
	Signal   chan string
	Db       *sql.DB
	hub      Broadcaster
	log      *logrus.Entry
}

// NewQueue returns an in-memory queue.
func NewQueue(hub Broadcaster) *Queue {
	return &Queue{
		Jobs:   make(map[string]*Job),
		Signal: make(chan string, 100),
		hub:    hub,
		log:    logrus.WithField("component", "exports"),
	}
}

// NewQueueWithDB returns a queue persisted in db, loading earlier jobs.
func NewQueueWithDB(db *sql.DB, hub Broadcaster) (*Queue, error) {
	q := NewQueue(hub)
	q.Db = db
	if err := q.createJobsTable(); err != nil {
		return nil, fmt.Errorf("create exports table: %w", err)
	}
	if err := q.loadJobsFromDB(); err != nil {
		return nil, fmt.Errorf("load exports: %w", err)
	}
	return q, nil
}

func (q *Queue) createJobsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		left_path TEXT NOT NULL,
		right_path TEXT NOT NULL,
		output TEXT NOT NULL,
		left_transform TEXT, -- JSON [a,b,c,d,e,f]
		right_transform TEXT,
		state INTEGER NOT NULL,
		message TEXT,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		completed_at DATETIME,
		errored_at DATETIME,
		job_order_position INTEGER
	)`
	if _, err := q.Db.Exec(query); err != nil {
		return err
	}
	_, err := q.Db.Exec("CREATE INDEX IF NOT EXISTS idx_exports_pair ON exports(left_path, right_path)")
	return err
}

func (q *Queue) saveJobToDB(job *Job) error {
	if q.Db == nil {
		return nil
	}
	leftJSON, _ := json.Marshal(job.LeftTransform.Coefficients())
	rightJSON, _ := json.Marshal(job.RightTransform.Coefficients())

	position := -1
	for i, id := range q.JobOrder {
		if id == job.ID {
			position = i
			break
		}
	}

	query := `
	INSERT OR REPLACE INTO exports (
		id, left_path, right_path, output, left_transform, right_transform, state, message,
		created_at, claimed_at, completed_at, errored_at, job_order_position
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.Db.Exec(query,
		job.ID,
		job.Left,
		job.Right,
		job.Output,
		string(leftJSON),
		string(rightJSON),
		int(job.State),
		job.Message,
		job.CreatedAt,
		job.ClaimedAt,
		job.CompletedAt,
		job.ErroredAt,
		position,
	)
	return err
}

func (q *Queue) loadJobsFromDB() error {
	rows, err := q.Db.Query(`
	SELECT id, left_path, right_path, output, left_transform, right_transform, state,
		   COALESCE(message, ''), created_at, claimed_at, completed_at, errored_at
	FROM exports
	ORDER BY job_order_position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var interrupted []*Job
	for rows.Next() {
		var job Job
		var leftJSON, rightJSON string
		var state int
		if err := rows.Scan(
			&job.ID, &job.Left, &job.Right, &job.Output, &leftJSON, &rightJSON, &state,
			&job.Message, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt, &job.ErroredAt,
		); err != nil {
			q.log.WithError(err).Warn("skipping unreadable export row")
			continue
		}
		job.LeftTransform = decodeTransform(leftJSON)
		job.RightTransform = decodeTransform(rightJSON)
		job.State = JobState(state)

		// The pixels of unfinished jobs are gone with the old process.
		if job.State == StatePending || job.State == StateInProgress {
			job.State = StateError
			job.Message = "interrupted by restart"
			job.ErroredAt = time.Now()
			interrupted = append(interrupted, &job)
		}
		q.Jobs[job.ID] = &job
		q.JobOrder = append(q.JobOrder, job.ID)
	}
	for _, job := range interrupted {
		if err := q.saveJobToDB(job); err != nil {
			q.log.WithError(err).Warn("failed to mark interrupted export")
		}
	}
	if len(interrupted) > 0 {
		q.log.Infof("marked %d unfinished exports as interrupted", len(interrupted))
	}
	return rows.Err()
}

func decodeTransform(s string) affine.Transform {
	var c [6]float64
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return affine.Identity()
	}
	return affine.FromCoefficients(c)
}

// AddJob queues an export of snap to output.
func (q *Queue) AddJob(snap pair.Snapshot, output string) (string, error) {
	if !snap.Left.Loaded() || !snap.Right.Loaded() {
		return "", ErrNotLoaded
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	job := &Job{
		ID:             id,
		Left:           snap.Left.Source,
		Right:          snap.Right.Source,
		Output:         output,
		LeftTransform:  snap.Left.Transform,
		RightTransform: snap.Right.Transform,
		State:          StatePending,
		Snapshot:       &snap,
		CreatedAt:      time.Now(),
	}
	q.Jobs[id] = job
	q.JobOrder = append(q.JobOrder, id)

	if err := q.saveJobToDB(job); err != nil {
		q.log.WithError(err).Warn("failed to save export to database")
	}
	select {
	case q.Signal <- id:
	default:
	}
	q.broadcast("create", job)
	return id, nil
}

// ClaimJob returns the oldest pending job and marks it in progress, or nil
// when there is none.
func (q *Queue) ClaimJob() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.JobOrder {
		job := q.Jobs[id]
		if job.State != StatePending {
			continue
		}
		job.State = StateInProgress
		job.ClaimedAt = time.Now()
		if err := q.saveJobToDB(job); err != nil {
			q.log.WithError(err).Warn("failed to save export state")
		}
		q.broadcast("update", job)
		return job, nil
	}
	return nil, nil
}

// CompleteJob marks an in-progress job completed.
func (q *Queue) CompleteJob(id string) error {
	return q.finish(id, StateCompleted, "")
}

// ErrorJob marks an in-progress job failed with cause.
func (q *Queue) ErrorJob(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.finish(id, StateError, msg)
}

func (q *Queue) finish(id string, state JobState, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateInProgress {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, job.State)
	}
	job.State = state
	job.Message = msg
	if state == StateCompleted {
		job.CompletedAt = time.Now()
	} else {
		job.ErroredAt = time.Now()
	}
	// The pixels are no longer needed.
	job.Snapshot = nil

	if err := q.saveJobToDB(job); err != nil {
		q.log.WithError(err).Warn("failed to save export result")
	}
	q.broadcast("update", job)
	return nil
}

// GetJobs returns copies of all jobs, newest first.
func (q *Queue) GetJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.JobOrder))
	for i := len(q.JobOrder) - 1; i >= 0; i-- {
		jobs = append(jobs, *q.Jobs[q.JobOrder[i]])
	}
	return jobs
}

// GetJob returns a copy of one job.
func (q *Queue) GetJob(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// RemoveJob deletes a job that is not running.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State == StateInProgress {
		return fmt.Errorf("%w: %s is running", ErrInvalidState, id)
	}
	q.removeLocked(id)
	return nil
}

// ClearFinished removes completed and failed jobs and returns how many.
func (q *Queue) ClearFinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, id := range q.JobOrder {
		if s := q.Jobs[id].State; s == StateCompleted || s == StateError {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		q.removeLocked(id)
	}
	return len(ids)
}

func (q *Queue) removeLocked(id string) {
	delete(q.Jobs, id)
	for i, jobID := range q.JobOrder {
		if jobID == id {
			q.JobOrder = append(q.JobOrder[:i], q.JobOrder[i+1:]...)
			break
		}
	}
	if q.Db != nil {
		if _, err := q.Db.Exec("DELETE FROM exports WHERE id = ?", id); err != nil {
			q.log.WithError(err).Warn("failed to remove export from database")
		}
	}
	q.broadcast("delete", &Job{ID: id})
}

// LastForPair returns the newest completed export of the given sources, so
// a pair opened again can pick up its earlier alignment.
func (q *Queue) LastForPair(left, right string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.JobOrder) - 1; i >= 0; i-- {
		job := q.Jobs[q.JobOrder[i]]
		if job.State == StateCompleted && job.Left == left && job.Right == right {
			return *job, true
		}
	}
	return Job{}, false
}

type serializedJob struct {
	UpdateType string `json:"updateType"`
	Job        Job    `json:"job"`
}

func (q *Queue) broadcast(updateType string, job *Job) {
	if q.hub == nil {
		return
	}
	j, err := json.Marshal(serializedJob{UpdateType: updateType, Job: *job})
	if err != nil {
		q.log.WithError(err).Warn("failed to marshal export event")
		return
	}
	q.hub.Broadcast(stream.Message{Type: "export", Msg: string(j)})
}

// LastAlignment returns the transforms of LastForPair.
func (q *Queue) LastAlignment(left, right string) (l, r affine.Transform, ok bool) {
	job, ok := q.LastForPair(left, right)
	if !ok {
		return affine.Transform{}, affine.Transform{}, false
	}
	return job.LeftTransform, job.RightTransform, true
}
