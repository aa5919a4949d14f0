// Package queue keeps print jobs in a persistent FIFO and feeds them to
// the printer one at a time.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/spq"
	"go.uber.org/zap"

	"kitchen-print/internal/label"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/printing"
)

const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultMaxAttempts = 3

	recentLimit = 50
)

// Handler prints one job
type Handler func(ctx context.Context, j Job) error

// Result is reported once per job when it leaves the queue
type Result struct {
	Job      Job       `json:"job"`
	Err      string    `json:"error,omitempty"`
	Attempts int       `json:"attempts"`
	DoneAt   time.Time `json:"done_at"`
}

func (r Result) OK() bool { return r.Err == "" }

type Options struct {
	RetryDelay  time.Duration
	MaxAttempts int
	OnResult    func(Result)
}

// Queue contract:
// - Submit blocks at most for a disk write
// - jobs are printed in order by a single Run loop
// - a job that fails is moved to the tail and retried after RetryDelay,
//   up to MaxAttempts
// - while the printer is not connected the head job waits, attempts are
//   not counted
// - invalid jobs are dropped with a failed Result
type Queue struct {
	q    *spq.Queue
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
	recent   []Result

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Open opens the queue at path; an empty path keeps jobs in memory
func Open(path string, opts Options, log *zap.Logger) (*Queue, error) {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if path == "" {
		path = spq.OnlyForTesting
	}
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "job queue")
	}
	return &Queue{
		q:        q,
		opts:     opts,
		log:      log.Named("queue"),
		attempts: make(map[string]int),
		stopCh:   make(chan struct{}),
	}, nil
}

// Submit validates j, assigns an ID and appends it
func (q *Queue) Submit(j Job) (Job, error) {
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.ID == "" {
		j.ID = newID(now)
	}
	if err := q.q.MarshalPush(j); err != nil {
		return Job{}, errors.Annotate(err, "push job")
	}
	q.log.Debug("job queued", zap.String("id", j.ID), zap.String("kind", string(j.Kind)))
	return j, nil
}

// Recent returns the latest results, newest first
func (q *Queue) Recent() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Result, len(q.recent))
	for i, r := range q.recent {
		out[len(q.recent)-1-i] = r
	}
	return out
}

// Run feeds jobs to h until ctx ends or the queue is closed. Ending ctx
// closes the queue.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	go func() {
		select {
		case <-ctx.Done():
			q.Close()
		case <-q.stopCh:
		}
	}()

	for {
		box, err := q.q.Peek()
		switch err {
		case nil:
		case spq.ErrClosed:
			return nil
		default:
			return errors.Annotate(err, "peek job")
		}

		var j Job
		if err := box.Unmarshal(&j); err != nil {
			q.log.Error("drop unreadable job", zap.Binary("payload", box.Bytes()), zap.Error(err))
			if err := q.q.Delete(box); err != nil {
				return q.stopped(err)
			}
			continue
		}

		err = h(ctx, j)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err == nil:
			if err := q.q.Delete(box); err != nil {
				return q.stopped(err)
			}
			q.finish(j, nil)

		case errors.Cause(err) == printer.ErrServiceUnbound:
			q.log.Info("printer not connected, job waits", zap.String("id", j.ID))
			if !q.wait(ctx) {
				return nil
			}

		case errors.IsNotValid(err) || errors.IsNotSupported(err):
			q.log.Warn("drop invalid job", zap.String("id", j.ID), zap.Error(err))
			if err := q.q.Delete(box); err != nil {
				return q.stopped(err)
			}
			q.finish(j, err)

		default:
			n := q.attempt(j.ID)
			if n >= q.opts.MaxAttempts {
				q.log.Error("job failed", zap.String("id", j.ID), zap.Int("attempts", n), zap.Error(err))
				if err := q.q.Delete(box); err != nil {
					return q.stopped(err)
				}
				q.finish(j, err)
				continue
			}
			q.log.Warn("job failed, requeued", zap.String("id", j.ID), zap.Int("attempts", n), zap.Error(err))
			if err := q.q.DeletePush(box); err != nil {
				return q.stopped(err)
			}
			if !q.wait(ctx) {
				return nil
			}
		}
	}
}

func (q *Queue) stopped(err error) error {
	if err == spq.ErrClosed {
		return nil
	}
	return errors.Trace(err)
}

func (q *Queue) attempt(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[id]++
	return q.attempts[id]
}

func (q *Queue) finish(j Job, err error) {
	q.mu.Lock()
	r := Result{Job: j, Attempts: q.attempts[j.ID] + 1, DoneAt: time.Now()}
	if err != nil {
		r.Err = err.Error()
		if q.attempts[j.ID] > 0 {
			r.Attempts = q.attempts[j.ID]
		}
	}
	delete(q.attempts, j.ID)
	q.recent = append(q.recent, r)
	if len(q.recent) > recentLimit {
		q.recent = q.recent[len(q.recent)-recentLimit:]
	}
	q.mu.Unlock()

	if q.opts.OnResult != nil {
		q.opts.OnResult(r)
	}
}

func (q *Queue) wait(ctx context.Context) bool {
	t := time.NewTimer(q.opts.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-q.stopCh:
		return false
	}
}

func (q *Queue) Close() error {
	var err error
	q.stopOnce.Do(func() {
		close(q.stopCh)
		err = q.q.Close()
	})
	return errors.Trace(err)
}

// Dispatch prints jobs with p
func Dispatch(p *printing.Printer) Handler {
	return func(ctx context.Context, j Job) error {
		switch j.Kind {
		case KindLabel:
			return p.PrintLabel(ctx, j.Content())
		case KindText:
			return p.PrintLabelText(ctx, j.Text)
		case KindParsed:
			if j.Parsed == nil {
				return errors.NotValidf("parsed job without record")
			}
			return p.PrintLabelText(ctx, label.BuildContent(*j.Parsed))
		}
		return errors.NotSupportedf("job kind %q", j.Kind)
	}
}
