package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// OutcomeKind is a job lifecycle signal reported by the worker side.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeRetrying  OutcomeKind = "retrying"
)

// JobOutcome is one lifecycle signal for a submitted job. Result is set for
// succeeded, Err for failed and retrying.
type JobOutcome struct {
	JobID  string
	Kind   OutcomeKind
	Result string
	Err    string
}

// Terminal reports whether no further outcomes follow.
func (o JobOutcome) Terminal() bool {
	return o.Kind == OutcomeSucceeded || o.Kind == OutcomeFailed
}

// Job is a submitted job. Outcomes is closed after a terminal outcome, or
// when the queue stops tracking the job.
type Job struct {
	ID       string
	Request  JobRequest
	Retries  int
	Outcomes <-chan JobOutcome
}

// JobQueue is a producer handle for one named job queue.
type JobQueue interface {
	Submit(ctx context.Context, req JobRequest, retries int) (*Job, error)
	Close() error
}

// QueueOptions configures a RedisQueue.
type QueueOptions struct {
	Prefix     string        // key prefix, "bq" when empty
	OutcomeTTL time.Duration // how long a job's outcome is awaited
}

const (
	defaultQueuePrefix = "bq"
	defaultOutcomeTTL  = 10 * time.Minute
	outcomeBuffer      = 8
)

// RedisQueue is a producer for a bee-queue compatible queue: jobs are stored
// in the <prefix>:<name>:jobs hash, their ids pushed on <prefix>:<name>:waiting,
// and workers publish lifecycle events on <prefix>:<name>:events.
type RedisQueue struct {
	client  redis.UniversalClient
	name    string
	prefix  string
	pubsub  *redis.PubSub
	pending *ttlcache.Cache[string, *pendingJob]
	once    gosync.Once
}

var _ JobQueue = (*RedisQueue)(nil)

// NewRedisQueue opens a producer and subscribes to the queue's events. The
// producer is ready when this returns without error.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, name string, opts QueueOptions) (*RedisQueue, error) {
	l := sub("jobqueue")

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultQueuePrefix
	}
	ttl := opts.OutcomeTTL
	if ttl <= 0 {
		ttl = defaultOutcomeTTL
	}

	q := &RedisQueue{client: client, name: name, prefix: prefix}

	q.pubsub = client.Subscribe(ctx, q.key("events"))
	if _, err := q.pubsub.Receive(ctx); err != nil {
		q.pubsub.Close() //nolint:errcheck
		return nil, fmt.Errorf("subscribe %s events: %w", name, err)
	}

	q.pending = ttlcache.New[string, *pendingJob](
		ttlcache.WithTTL[string, *pendingJob](ttl),
		ttlcache.WithDisableTouchOnHit[string, *pendingJob](),
	)
	q.pending.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *pendingJob]) {
		if reason == ttlcache.EvictionReasonExpired {
			l.Warn("job outcome not received in time", "queue", name, "job", item.Key(), "ttl", ttl)
		}
		item.Value().close()
	})
	go q.pending.Start()
	go q.dispatch(q.pubsub.Channel())

	l.Info("queue is ready", "queue", name)
	return q, nil
}

func (q *RedisQueue) key(suffix string) string {
	return q.prefix + ":" + q.name + ":" + suffix
}

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// Submit stores the job and makes it visible to workers.
func (q *RedisQueue) Submit(ctx context.Context, req JobRequest, retries int) (*Job, error) {
	id, err := q.client.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate job id on %s: %w", q.name, err)
	}
	jobID := strconv.FormatInt(id, 10)

	payload, err := encodeJob(req, retries, nowFunc())
	if err != nil {
		return nil, err
	}

	// Register before the job is visible so an immediate outcome is not missed.
	pj := newPendingJob()
	q.pending.Set(jobID, pj, ttlcache.DefaultTTL)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), jobID, payload)
		pipe.LPush(ctx, q.key("waiting"), jobID)
		return nil
	})
	if err != nil {
		q.pending.Delete(jobID)
		return nil, fmt.Errorf("save job on %s: %w", q.name, err)
	}

	return &Job{ID: jobID, Request: req, Retries: retries, Outcomes: pj.ch}, nil
}

func (q *RedisQueue) dispatch(ch <-chan *redis.Message) {
	l := sub("jobqueue")
	for msg := range ch {
		out, ok, err := decodeOutcome([]byte(msg.Payload))
		if err != nil {
			l.Warn("undecodable queue event", "queue", q.name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		item := q.pending.Get(out.JobID)
		if item == nil {
			continue // another producer's job
		}
		item.Value().deliver(out)
		if out.Terminal() {
			q.pending.Delete(out.JobID)
		}
	}
}

// Close stops tracking outcomes and closes every pending Outcomes channel.
func (q *RedisQueue) Close() error {
	var err error
	q.once.Do(func() {
		err = q.pubsub.Close()
		q.pending.Stop()
		q.pending.DeleteAll()
		sub("jobqueue").Debug("queue closed", "queue", q.name)
	})
	return err
}

type pendingJob struct {
	mu     gosync.Mutex
	ch     chan JobOutcome
	closed bool
}

func newPendingJob() *pendingJob {
	return &pendingJob{ch: make(chan JobOutcome, outcomeBuffer)}
}

func (p *pendingJob) deliver(out JobOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- out:
	default:
		sub("jobqueue").Warn("outcome dropped, observer too slow", "job", out.JobID, "kind", out.Kind)
	}
}

func (p *pendingJob) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

type storedJob struct {
	Data    JobRequest `json:"data"`
	Options jobOptions `json:"options"`
	Status  string     `json:"status"`
}

type jobOptions struct {
	Timestamp   int64    `json:"timestamp"`
	Stacktraces []string `json:"stacktraces"`
	Retries     int      `json:"retries,omitempty"`
}

func encodeJob(req JobRequest, retries int, now time.Time) (string, error) {
	data, err := json.Marshal(storedJob{
		Data: req,
		Options: jobOptions{
			Timestamp:   now.UnixMilli(),
			Stacktraces: []string{},
			Retries:     retries,
		},
		Status: "created",
	})
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(data), nil
}

type queueEvent struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var errMissingJobID = errors.New("queue event without job id")

// decodeOutcome parses a worker event. ok is false for events that are not
// lifecycle outcomes (progress and the like).
func decodeOutcome(payload []byte) (JobOutcome, bool, error) {
	var ev queueEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return JobOutcome{}, false, fmt.Errorf("decode queue event: %w", err)
	}
	if ev.ID == "" {
		return JobOutcome{}, false, errMissingJobID
	}

	out := JobOutcome{JobID: ev.ID, Kind: OutcomeKind(ev.Event)}
	switch out.Kind {
	case OutcomeSucceeded:
		out.Result = rawText(ev.Data)
	case OutcomeFailed, OutcomeRetrying:
		out.Err = rawText(ev.Data)
	default:
		return JobOutcome{}, false, nil
	}
	return out, true, nil
}

// rawText returns a JSON string's value, or the raw JSON for anything else.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
