package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kitchen-print/internal/connection"
	"kitchen-print/internal/label"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/printer/printertest"
	"kitchen-print/internal/printing"
	"kitchen-print/internal/settings"
)

type results struct {
	ch chan Result
}

func newResults() *results { return &results{ch: make(chan Result, 16)} }

func (r *results) add(res Result) { r.ch <- res }

func (r *results) next(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	return Result{}
}

func open(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	q, err := Open("", opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func run(t *testing.T, q *Queue, h Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop")
		}
	})
}

type calls struct {
	mu  sync.Mutex
	ids []string
}

func (c *calls) add(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestSubmitAssignsID(t *testing.T) {
	q := open(t, Options{})
	j, err := q.Submit(Job{Kind: KindText, Text: "hello"})
	require.NoError(t, err)
	assert.Len(t, j.ID, 26)
	assert.False(t, j.CreatedAt.IsZero())

	j2, err := q.Submit(Job{Kind: KindText, Text: "again"})
	require.NoError(t, err)
	assert.NotEqual(t, j.ID, j2.ID)
}

func TestSubmitValidates(t *testing.T) {
	q := open(t, Options{})
	for _, j := range []Job{
		{Kind: KindLabel},
		{Kind: KindText},
		{Kind: KindParsed},
		{Kind: "poster", Text: "x"},
	} {
		_, err := q.Submit(j)
		assert.True(t, errors.IsNotValid(err), "%+v", j)
	}
}

func TestRunInOrder(t *testing.T) {
	res := newResults()
	q := open(t, Options{OnResult: res.add})
	for _, text := range []string{"a", "b", "c"} {
		_, err := q.Submit(Job{Kind: KindText, Text: text})
		require.NoError(t, err)
	}

	var seen calls
	run(t, q, func(_ context.Context, j Job) error {
		seen.add(j.Text)
		return nil
	})

	for i := 0; i < 3; i++ {
		r := res.next(t)
		assert.True(t, r.OK())
		assert.Equal(t, 1, r.Attempts)
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen.list())
	assert.Len(t, q.Recent(), 3)
	assert.Equal(t, "c", q.Recent()[0].Job.Text)
}

func TestFailedJobRequeuedBehindOthers(t *testing.T) {
	res := newResults()
	q := open(t, Options{OnResult: res.add})
	_, err := q.Submit(Job{Kind: KindText, Text: "a"})
	require.NoError(t, err)
	_, err = q.Submit(Job{Kind: KindText, Text: "b"})
	require.NoError(t, err)

	var seen calls
	failed := false
	run(t, q, func(_ context.Context, j Job) error {
		seen.add(j.Text)
		if j.Text == "a" && !failed {
			failed = true
			return &printer.RemoteError{Code: 1, Msg: "busy"}
		}
		return nil
	})

	first, second := res.next(t), res.next(t)
	assert.Equal(t, "b", first.Job.Text)
	assert.Equal(t, "a", second.Job.Text)
	assert.True(t, second.OK())
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, []string{"a", "b", "a"}, seen.list())
}

func TestJobDroppedAfterMaxAttempts(t *testing.T) {
	res := newResults()
	q := open(t, Options{MaxAttempts: 3, OnResult: res.add})
	_, err := q.Submit(Job{Kind: KindText, Text: "jam"})
	require.NoError(t, err)

	var seen calls
	run(t, q, func(_ context.Context, j Job) error {
		seen.add(j.Text)
		return printer.ErrRunFailed
	})

	r := res.next(t)
	assert.False(t, r.OK())
	assert.Equal(t, 3, r.Attempts)
	assert.Contains(t, r.Err, printer.ErrRunFailed.Error())
	assert.Len(t, seen.list(), 3)
}

func TestNotConnectedWaitsWithoutCountingAttempts(t *testing.T) {
	res := newResults()
	q := open(t, Options{MaxAttempts: 1, OnResult: res.add})
	_, err := q.Submit(Job{Kind: KindText, Text: "soup"})
	require.NoError(t, err)

	var seen calls
	run(t, q, func(_ context.Context, j Job) error {
		seen.add(j.Text)
		if len(seen.list()) < 3 {
			return errors.Annotate(printer.ErrServiceUnbound, "print label")
		}
		return nil
	})

	r := res.next(t)
	assert.True(t, r.OK())
	assert.Equal(t, 1, r.Attempts)
	assert.Len(t, seen.list(), 3)
}

func TestInvalidJobDropped(t *testing.T) {
	res := newResults()
	q := open(t, Options{OnResult: res.add})
	_, err := q.Submit(Job{Kind: KindText, Text: "x"})
	require.NoError(t, err)

	run(t, q, func(context.Context, Job) error {
		return errors.NotValidf("empty label text")
	})
	r := res.next(t)
	assert.False(t, r.OK())
	assert.Equal(t, 1, r.Attempts)
}

func TestRunStopsOnClose(t *testing.T) {
	q, err := Open("", Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background(), func(context.Context, Job) error { return nil }) }()
	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	_, err = q.Submit(Job{Kind: KindText, Text: "late"})
	assert.Error(t, err)
}

func TestDispatchPrintsJobs(t *testing.T) {
	log := zaptest.NewLogger(t)
	fake := printertest.New()
	conn := connection.New(func(context.Context) (printer.Service, error) { return fake, nil }, connection.Options{}, log)
	require.NoError(t, conn.Bind(context.Background(), nil).Wait(context.Background()))
	store, err := settings.Open("", log)
	require.NoError(t, err)
	h := Dispatch(printing.New(conn, store, nil, printing.Options{Scale: 1}, log))
	ctx := context.Background()

	fake.Reset()
	require.NoError(t, h(ctx, Job{Kind: KindParsed, Parsed: &label.Parsed{ProductName: "Stock"}}))
	assert.Contains(t, fake.History(), `PrintText("=== Stock ===\n")`)
	assert.Equal(t, "CutPaper", fake.History()[len(fake.History())-1])

	fake.Reset()
	require.NoError(t, h(ctx, Job{Kind: KindLabel, Product: "Rice", StartDate: time.Now(), EndDate: time.Now()}))
	assert.Equal(t, 1, fake.Count("PrintBitmap"))

	err = h(ctx, Job{Kind: "poster"})
	assert.True(t, errors.IsNotSupported(err))
}
