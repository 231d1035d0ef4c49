package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/marusama/semaphore/v2"
	"github.com/spf13/afero"
)

const (
	defaultMaxInFlight = 64
	submitTimeout      = 30 * time.Second
)

// BindingOptions are process-level settings shared by every binding.
type BindingOptions struct {
	MountRoot string
	// IgnoreLocalDeletes and SuppressInventoryScan override the per-binding
	// flags when true.
	IgnoreLocalDeletes    bool
	SuppressInventoryScan bool
	// MaxInFlight bounds concurrent Submit calls when BindingDeps.Submits
	// is nil. Outcome observers are not counted; the queue's outcome TTL
	// bounds them.
	MaxInFlight int
}

// BindingDeps are the collaborators a binding talks to.
type BindingDeps struct {
	Fs        afero.Fs
	Watch     WatchFunc
	OpenQueue func(ctx context.Context, name string) (JobQueue, error)
	Cache     InventoryCache
	Events    *EventBus
	// Submits, when set, is shared by every binding to bound concurrent
	// Submit calls process-wide.
	Submits   semaphore.Semaphore
}

// BindingStatus is a point-in-time view of a binding.
type BindingStatus struct {
	Key       string        `json:"key"`
	Config    BindingConfig `json:"config"`
	Root      string        `json:"root"`
	State     BindingState  `json:"state"`
	Submitted int64         `json:"submitted"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	StartedAt time.Time     `json:"startedAt"`
}

// Binding is a live directory-to-bucket binding. All state transitions and
// event handling happen on its own goroutine; other goroutines only post
// messages to its inbox.
type Binding struct {
	cfg           BindingConfig
	key           BindingKey
	root          string
	dest          Destination
	matcher       *Matcher
	ignoreDeletes bool
	scan          bool
	deps          BindingDeps
	log           *slog.Logger

	sem    semaphore.Semaphore
	inbox  *Mailbox // watch-independent messages for the actor loop
	outbox *Mailbox // ordered submissions for the submitter

	mu        gosync.RWMutex
	state     BindingState
	startedAt time.Time

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{} // actor loop exited
	stopped  chan struct{} // closed by Stop
	released chan struct{} // producer closed
	inflight gosync.WaitGroup
	stopOnce gosync.Once
}

type submission struct {
	req     JobRequest
	retries int
	snap    Snapshot // inventory jobs only
}

type reconcileResult struct {
	jobs []JobRequest
	err  error
}

// NewBinding validates cfg and prepares a binding in the Created state.
func NewBinding(cfg BindingConfig, opts BindingOptions, deps BindingDeps) (*Binding, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := NewMatcher(cfg.IncludePattern, cfg.ExcludePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBinding, err)
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}

	sem := deps.Submits
	if sem == nil {
		sem = semaphore.New(maxInFlight)
	}

	key := cfg.Key()
	return &Binding{
		cfg:           cfg,
		key:           key,
		root:          cfg.Root(opts.MountRoot),
		dest:          cfg.Destination(),
		matcher:       m,
		ignoreDeletes: cfg.IgnoreLocalDeletes || opts.IgnoreLocalDeletes,
		scan:          !(cfg.SuppressInventoryScan || opts.SuppressInventoryScan),
		deps:          deps,
		log:           sub("binding").With("binding", key.String()),
		sem:           sem,
		inbox:         NewMailbox(key.String() + "/inbox"),
		outbox:        NewMailbox(key.String() + "/outbox"),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		released:      make(chan struct{}),
	}, nil
}

// Key returns the binding identity.
func (b *Binding) Key() BindingKey { return b.key }

// Config returns the config the binding was built from.
func (b *Binding) Config() BindingConfig { return b.cfg }

// State returns the current lifecycle state.
func (b *Binding) State() BindingState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Status returns a snapshot for the status API.
func (b *Binding) Status() BindingStatus {
	b.mu.RLock()
	state, startedAt := b.state, b.startedAt
	b.mu.RUnlock()
	return BindingStatus{
		Key:       b.key.String(),
		Config:    b.cfg,
		Root:      b.root,
		State:     state,
		Submitted: b.submitted.Load(),
		Succeeded: b.succeeded.Load(),
		Failed:    b.failed.Load(),
		StartedAt: startedAt,
	}
}

func (b *Binding) setState(s BindingState) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if prev == s {
		return
	}
	b.log.Info("state change", "from", prev.String(), "to", s.String())
	b.deps.Events.Publish(StatusEvent{Type: "state", Binding: b.key.String(), State: s})
}

// Start opens the job-queue producer and the filesystem watch, then runs the
// binding until Stop. On error nothing is left running.
func (b *Binding) Start(ctx context.Context) error {
	queue, err := b.deps.OpenQueue(ctx, b.cfg.QueueName())
	if err != nil {
		return fmt.Errorf("open queue %s: %w", b.cfg.QueueName(), err)
	}

	wctx, cancel := context.WithCancel(ctx)
	watch, err := b.deps.Watch(wctx, b.root, b.matcher)
	if err != nil {
		cancel()
		queue.Close() //nolint:errcheck
		return fmt.Errorf("watch %s: %w", b.root, err)
	}

	b.mu.Lock()
	b.startedAt = nowFunc()
	b.mu.Unlock()
	b.cancel = cancel

	b.log.Info("binding started", "root", b.root, "queue", b.cfg.QueueName(), "scan", b.scan, "ignoreLocalDeletes", b.ignoreDeletes)

	// Submissions outlive the binding: jobs already translated are still
	// sent and their outcomes still logged after Stop.
	go b.submitLoop(context.WithoutCancel(ctx), queue)
	go b.run(wctx, watch)
	return nil
}

// Stop closes the watch and ends the actor loop. The producer is released
// in the background once in-flight outcomes settle. Safe to call twice.
func (b *Binding) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopped)
		if b.cancel != nil {
			b.cancel()
			<-b.done
		} else {
			close(b.released) // never started, nothing to release
		}
		b.setState(StateStopped)
		b.log.Info("binding stopped")
	})
}

// Released is closed once the producer handle has been closed.
func (b *Binding) Released() <-chan struct{} {
	return b.released
}

func (b *Binding) run(ctx context.Context, watch Watch) {
	defer close(b.done)
	defer b.inbox.Close()
	defer watch.Close() //nolint:errcheck

	events := watch.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				b.log.Warn("watch ended unexpectedly")
				events = nil
				continue
			}
			b.handleWatch(ev)

		case <-b.inbox.Notify():
			for _, msg := range b.inbox.Drain() {
				b.handleMessage(msg)
			}
		}
	}
}

func (b *Binding) handleWatch(ev WatchEvent) {
	state := b.State()
	switch ev.Op {
	case WatchReady:
		if state != StateCreated {
			return
		}
		b.setState(StateWatching)
		if !b.scan {
			b.setState(StateRunning)
			return
		}
		b.setState(StateReconciling)
		b.log.Info("queue inventory request", "localEntries", ev.Snapshot.Len())
		b.outbox.Push(submission{req: InventoryJob(b.dest), retries: 0, snap: ev.Snapshot})
		return

	case WatchError:
		b.log.Warn("watch error", "path", ev.Path, "err", ev.Err)
		return
	}

	if !state.Live() {
		b.log.Debug("event before ready ignored", "op", ev.Op, "path", ev.Path)
		return
	}

	req, retries, ok := JobForEvent(b.dest, b.root, ev, b.ignoreDeletes)
	if !ok {
		b.log.Debug("event suppressed", "op", ev.Op, "path", ev.Path)
		return
	}
	b.log.Debug("watch event", "op", ev.Op, "path", ev.Path)
	b.outbox.Push(submission{req: req, retries: retries})
}

func (b *Binding) handleMessage(msg any) {
	switch m := msg.(type) {
	case reconcileResult:
		if b.State() != StateReconciling {
			return
		}
		if m.err != nil {
			b.log.Error("reconciliation abandoned", "err", m.err)
		} else {
			b.log.Info("reconciliation complete", "jobs", len(m.jobs))
			for _, req := range m.jobs {
				b.log.Debug("queue reconciled file", "target", req.TargetFileName)
				b.outbox.Push(submission{req: req, retries: fileRetries})
			}
		}
		b.setState(StateRunning)
	default:
		b.log.Warn("unknown message", "type", fmt.Sprintf("%T", msg))
	}
}

// submitLoop sends submissions to the queue in the order they were produced.
// After Stop it drains what is left, waits for outstanding outcomes and
// closes the producer.
func (b *Binding) submitLoop(ctx context.Context, queue JobQueue) {
	defer close(b.released)
	for {
		msg, ok := b.outbox.Pop(b.stopped)
		if !ok {
			break
		}
		b.submit(ctx, queue, msg.(submission))
	}
	b.outbox.Close()
	b.inflight.Wait()
	if err := queue.Close(); err != nil {
		b.log.Warn("queue close failed", "err", err)
	}
	b.log.Debug("producer released")
}

func (b *Binding) submit(ctx context.Context, queue JobQueue, s submission) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		b.log.Error("job dropped", "event", s.req.Event, "target", s.req.TargetFileName, "err", err)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, submitTimeout)
	job, err := queue.Submit(sctx, s.req, s.retries)
	cancel()
	b.sem.Release(1)
	if err != nil {
		b.log.Error("job submit failed", "event", s.req.Event, "target", s.req.TargetFileName, "err", err)
		if s.req.Event == JobInventory {
			b.inbox.Push(reconcileResult{err: fmt.Errorf("submit inventory job: %w", err)})
		}
		return
	}

	b.submitted.Add(1)
	b.log.Info("job created", "job", job.ID, "event", s.req.Event, "target", s.req.TargetFileName, "retries", s.retries)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.observe(ctx, job, s.snap)
	}()
}

// observe logs every outcome of job. For the inventory job it also runs the
// reconciliation and posts the result back to the actor loop.
func (b *Binding) observe(ctx context.Context, job *Job, snap Snapshot) {
	inventory := job.Request.Event == JobInventory
	terminal := false

	for out := range job.Outcomes {
		b.deps.Events.Publish(StatusEvent{
			Type:    "job",
			Binding: b.key.String(),
			JobID:   job.ID,
			Event:   job.Request.Event,
			Target:  job.Request.TargetFileName,
			Outcome: out.Kind,
			Error:   out.Err,
		})

		switch out.Kind {
		case OutcomeSucceeded:
			terminal = true
			b.succeeded.Add(1)
			b.log.Info("job succeeded", "job", job.ID, "event", job.Request.Event, "result", out.Result)
			if inventory {
				b.inbox.Push(b.reconcile(ctx, out.Result, snap))
			}
		case OutcomeFailed:
			terminal = true
			b.failed.Add(1)
			b.log.Error("job failed", "job", job.ID, "event", job.Request.Event, "err", out.Err)
			if inventory {
				b.inbox.Push(reconcileResult{err: fmt.Errorf("inventory job %s failed: %s", job.ID, out.Err)})
			}
		case OutcomeRetrying:
			b.log.Warn("job retrying", "job", job.ID, "event", job.Request.Event, "err", out.Err)
		}
	}

	if !terminal && inventory {
		b.inbox.Push(reconcileResult{err: fmt.Errorf("inventory job %s: %w", job.ID, errNoOutcome)})
	}
}

var errNoOutcome = errors.New("no outcome received")

// reconcile reads the cached inventory, lists the local files seen when the
// watch became ready, and diffs them. Any failure abandons the whole pass.
func (b *Binding) reconcile(ctx context.Context, cacheKey string, snap Snapshot) reconcileResult {
	select {
	case <-b.stopped:
		return reconcileResult{err: errors.New("binding stopped")}
	default:
	}

	data, err := b.deps.Cache.Get(ctx, cacheKey)
	if err != nil {
		return reconcileResult{err: err}
	}
	remote, err := ParseInventory(data)
	if err != nil {
		return reconcileResult{err: err}
	}
	local := ListLocal(b.deps.Fs, b.root, snap)
	b.log.Info("inventory compared", "remote", len(remote), "local", len(local))
	return reconcileResult{jobs: Reconcile(b.dest, local, remote)}
}
