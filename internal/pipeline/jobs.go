package pipeline

import (
	"sync"
	"time"

	"github.com/dgallion1/texsync/internal/compiler"
	"github.com/dgallion1/texsync/internal/indexcache"
)

// JobKind says where a job's compile result comes from.
type JobKind string

const (
	// KindCompile sends a project to the compile service, then applies the result.
	KindCompile JobKind = "compile"
	// KindResult applies a compile result that was uploaded directly.
	KindResult JobKind = "result"
)

// JobStatus represents the state of a sync job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusCompiling JobStatus = "compiling"
	StatusDecoding  JobStatus = "decoding"
	StatusPublished JobStatus = "published"
	StatusNoSync    JobStatus = "no_sync"
	StatusDegraded  JobStatus = "degraded"
	StatusFailed    JobStatus = "failed"
)

// Job tracks one compile result on its way to a published snapshot.
type Job struct {
	mu sync.Mutex

	ID   string  `json:"job_id"`
	Kind JobKind `json:"kind"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Outcome  string    `json:"outcome,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Attempts int       `json:"attempts"`

	PayloadHash string    `json:"payload_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	request *compiler.Request
	result  *compiler.Result
	errors  []string
}

// NewJob returns a queued job with a fresh ULID.
func NewJob(kind JobKind) *Job {
	now := time.Now()
	return &Job{
		ID:        generateULID(),
		Kind:      kind,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewCompileJob wraps a project for the compile service.
func NewCompileJob(req compiler.Request) *Job {
	j := NewJob(KindCompile)
	j.request = &req
	return j
}

// NewResultJob wraps an uploaded compile result.
func NewResultJob(res *compiler.Result) *Job {
	j := NewJob(KindResult)
	j.SetResult(res)
	return j
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.UpdatedAt = time.Now()
}

// IncrAttempts counts one call to the compile service.
func (j *Job) IncrAttempts() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Attempts++
	j.UpdatedAt = time.Now()
}

// SetOutcome records what the adapter did with the result.
func (j *Job) SetOutcome(outcome string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Outcome = outcome
	j.UpdatedAt = time.Now()
}

// SetResult attaches a compile result and records its exit code and
// payload hash.
func (j *Job) SetResult(res *compiler.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	if res == nil {
		return
	}
	code := res.ExitCode
	j.ExitCode = &code
	if len(res.SyncTeX) > 0 {
		j.PayloadHash = indexcache.Key(res.SyncTeX)
	}
	j.UpdatedAt = time.Now()
}

// Result returns the attached compile result.
func (j *Job) Result() *compiler.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Request returns the project of a compile job.
func (j *Job) Request() *compiler.Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.request
}

// release drops payload bytes once the job no longer needs them.
func (j *Job) release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.request = nil
	j.result = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Outcome     string    `json:"outcome,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Attempts    int       `json:"attempts"`
	PayloadHash string    `json:"payload_hash,omitempty"`
	Errors      []string  `json:"errors"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	var code *int
	if j.ExitCode != nil {
		c := *j.ExitCode
		code = &c
	}
	return JobSnapshot{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Phase:       j.Phase,
		Outcome:     j.Outcome,
		ExitCode:    code,
		Attempts:    j.Attempts,
		PayloadHash: j.PayloadHash,
		Errors:      errs,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
