package sync

import (
	"context"
	"errors"
	"strconv"
	gosync "sync"
	"sync/atomic"
)

// --- job queue ---

type fakeJob struct {
	job      *Job
	outcomes chan JobOutcome
	once     gosync.Once
}

func (j *fakeJob) send(out JobOutcome) {
	out.JobID = j.job.ID
	j.outcomes <- out
	if out.Terminal() {
		j.once.Do(func() { close(j.outcomes) })
	}
}

func (j *fakeJob) succeed(result string) { j.send(JobOutcome{Kind: OutcomeSucceeded, Result: result}) }
func (j *fakeJob) fail(msg string)       { j.send(JobOutcome{Kind: OutcomeFailed, Err: msg}) }

type fakeQueue struct {
	mu     gosync.Mutex
	name   string
	jobs   []*fakeJob
	err    error
	closed atomic.Bool
}

func (q *fakeQueue) Submit(_ context.Context, req JobRequest, retries int) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	ch := make(chan JobOutcome, outcomeBuffer)
	job := &Job{ID: strconv.Itoa(len(q.jobs) + 1), Request: req, Retries: retries, Outcomes: ch}
	q.jobs = append(q.jobs, &fakeJob{job: job, outcomes: ch})
	return job, nil
}

func (q *fakeQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func (q *fakeQueue) snapshot() []*fakeJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*fakeJob(nil), q.jobs...)
}

func (q *fakeQueue) requests() []JobRequest {
	var out []JobRequest
	for _, j := range q.snapshot() {
		out = append(out, j.job.Request)
	}
	return out
}

func (q *fakeQueue) finishAll() {
	for _, j := range q.snapshot() {
		j.once.Do(func() { close(j.outcomes) })
	}
}

// --- watch ---

type fakeWatch struct {
	events chan WatchEvent
	root   string
	closed atomic.Bool
}

func newFakeWatch() *fakeWatch {
	return &fakeWatch{events: make(chan WatchEvent, 64)}
}

func (w *fakeWatch) Events() <-chan WatchEvent { return w.events }

func (w *fakeWatch) Close() error {
	w.closed.Store(true)
	return nil
}

// --- cache ---

type fakeCache struct {
	mu   gosync.Mutex
	data map[string][]byte
}

func (c *fakeCache) set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

// --- manager ---

type fakeRunner struct {
	cfg     BindingConfig
	started int
	stopped int
	err     error
}

func (r *fakeRunner) Start(context.Context) error {
	if r.err != nil {
		return r.err
	}
	r.started++
	return nil
}

func (r *fakeRunner) Stop() { r.stopped++ }

func (r *fakeRunner) Status() BindingStatus {
	state := StateRunning
	if r.stopped > 0 {
		state = StateStopped
	}
	return BindingStatus{Key: r.cfg.Key().String(), Config: r.cfg, State: state, Submitted: 3, Succeeded: 2, Failed: 1}
}

type fakeFactory struct {
	runners  []*fakeRunner
	startErr error
}

func (f *fakeFactory) build(cfg BindingConfig) (Runner, error) {
	r := &fakeRunner{cfg: cfg, err: f.startErr}
	f.runners = append(f.runners, r)
	return r, nil
}

func (f *fakeFactory) counts() (starts, stops int) {
	for _, r := range f.runners {
		starts += r.started
		stops += r.stopped
	}
	return starts, stops
}

// --- listener ---

type fakeStore struct {
	mu    gosync.Mutex
	snap  ConfigSnapshot
	err   error
	calls int
}

func (s *fakeStore) Fetch(context.Context) (ConfigSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.snap, s.err
}

func (s *fakeStore) set(snap ConfigSnapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.err = snap, err
}

func (s *fakeStore) fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeNotifier struct {
	ch  chan Notification
	err error
}

func (n *fakeNotifier) Subscribe(context.Context, ...string) (<-chan Notification, error) {
	if n.err != nil {
		return nil, n.err
	}
	return n.ch, nil
}

type recordingApplier struct {
	mu    gosync.Mutex
	calls [][]BindingConfig
}

func (a *recordingApplier) Apply(_ context.Context, configs []BindingConfig) ApplyResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, configs)
	return ApplyResult{}
}

func (a *recordingApplier) applied() [][]BindingConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]BindingConfig(nil), a.calls...)
}

var errTransport = errors.New("connection refused")

func testConfig() BindingConfig {
	return BindingConfig{
		VendorType:     VendorAWS,
		BucketName:     "b1",
		SyncDir:        "news",
		IncludePattern: "**/*",
		ExcludePattern: "**/.*",
	}
}
