// Package connection owns the lifecycle of the single binding to the
// print service.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"kitchen-print/internal/printer"
)

const (
	DefaultInitAttempts   = 3
	DefaultRetryDelay     = time.Second
	DefaultMaxReconnects  = 3
	DefaultReconnectDelay = 5 * time.Second
)

// Binder opens a print service handle
type Binder func(ctx context.Context) (printer.Service, error)

type Options struct {
	InitAttempts   int
	RetryDelay     time.Duration
	AutoReconnect  bool
	MaxReconnects  int
	ReconnectDelay time.Duration
}

func (o *Options) setDefaults() {
	if o.InitAttempts <= 0 {
		o.InitAttempts = DefaultInitAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
}

// Manager binds, initializes and hands out the print service. Commands
// run one at a time under the manager lock.
type Manager struct {
	bind Binder
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	svc        printer.Service
	listener   Listener
	state      State
	gen        uint64
	cancel     context.CancelFunc
	reconnects int
	closed     bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

func New(bind Binder, opts Options, log *zap.Logger) *Manager {
	opts.setDefaults()
	return &Manager{
		bind:     bind,
		opts:     opts,
		log:      log.Named("connection"),
		listener: ListenerFuncs{},
		subs:     make(map[chan Event]struct{}),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected && m.svc != nil
}

// Bind connects to the print service and initializes the printer on a
// background goroutine. A live binding that answers a ping is kept and
// reported connected right away; anything else is torn down first.
// Cancelling ctx aborts the init retries.
func (m *Manager) Bind(ctx context.Context, l Listener) *Future {
	if l == nil {
		l = ListenerFuncs{}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return completedFuture(errors.Annotate(printer.ErrServiceUnbound, "manager closed"))
	}
	m.listener = l
	m.reconnects = 0
	if m.svc != nil && m.state == Connected {
		err := m.svc.Ping()
		if err == nil {
			m.mu.Unlock()
			m.log.Debug("already bound")
			l.OnConnected()
			return completedFuture(nil)
		}
		m.log.Info("existing binding not answering, rebinding", zap.Error(err))
	}
	f, gen, ctx := m.startLocked(ctx)
	m.mu.Unlock()

	m.publish(Event{State: Connecting})
	go m.run(ctx, gen, f)
	return f
}

// startLocked drops the current binding and opens a new generation
func (m *Manager) startLocked(parent context.Context) (*Future, uint64, context.Context) {
	m.teardownLocked()
	m.gen++
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.state = Connecting
	return NewFuture(), m.gen, ctx
}

func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.svc != nil {
		if err := m.svc.Close(); err != nil {
			m.log.Debug("close service", zap.Error(err))
		}
		m.svc = nil
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, f *Future) {
	svc, err := m.bind(ctx)
	if err != nil {
		if ctx.Err() != nil {
			m.abandon(gen, f, ctx.Err())
			return
		}
		err = errors.Annotate(err, "bind print service")
		m.fail(gen, f, err, err.Error())
		return
	}

	for attempt := 1; attempt <= m.opts.InitAttempts; attempt++ {
		err = svc.PrinterInit()
		if err == nil {
			m.installed(gen, svc, f)
			return
		}
		m.log.Warn("printer init failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == m.opts.InitAttempts {
			break
		}
		select {
		case <-ctx.Done():
			svc.Close()
			m.abandon(gen, f, ctx.Err())
			return
		case <-time.After(m.opts.RetryDelay):
		}
	}

	svc.Close()
	msg := fmt.Sprintf("failed to initialize printer after %d attempts", m.opts.InitAttempts)
	m.fail(gen, f, errors.Annotate(errors.Wrap(err, printer.ErrInitializationFailed), msg), msg)
}

func (m *Manager) installed(gen uint64, svc printer.Service, f *Future) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		svc.Close()
		f.Cancel(context.Canceled)
		return
	}
	m.svc = svc
	m.state = Connected
	m.reconnects = 0
	l := m.listener
	m.mu.Unlock()

	m.log.Info("printer connected")
	m.publish(Event{State: Connected})
	l.OnConnected()
	f.Complete(nil)
}

// fail reports a bind failure once, unless a newer bind took over
func (m *Manager) fail(gen uint64, f *Future, err error, msg string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		f.Cancel(err)
		return
	}
	m.state = Error
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	l := m.listener
	// a failed reconnect tries again until the budget is spent and
	// only the last failure reaches the listener
	reconnecting := m.reconnects > 0
	reconnect := m.opts.AutoReconnect && !m.closed && reconnecting && m.reconnects < m.opts.MaxReconnects
	if reconnect {
		m.reconnects++
	}
	attempt := m.reconnects
	m.mu.Unlock()

	m.log.Error("bind failed", zap.Int("reconnect", attempt), zap.Error(err))
	m.publish(Event{State: Error, Err: msg})
	if reconnect {
		f.Complete(err)
		m.scheduleReconnect(gen, attempt)
		return
	}
	if reconnecting {
		msg = fmt.Sprintf("failed to reconnect after %d attempts", attempt)
		err = errors.Annotate(err, msg)
	}
	l.OnError(msg)
	f.Complete(err)
}

// abandon resolves a bind whose context ended
func (m *Manager) abandon(gen uint64, f *Future, err error) {
	m.mu.Lock()
	current := gen == m.gen
	if current {
		m.state = Disconnected
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
	}
	m.mu.Unlock()

	if current {
		m.publish(Event{State: Disconnected, Err: err.Error()})
	}
	f.Cancel(err)
}

// Unbind closes the handle. It does nothing when not bound.
func (m *Manager) Unbind() {
	m.mu.Lock()
	if m.svc == nil && m.state != Connecting {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.teardownLocked()
	m.state = Disconnected
	m.mu.Unlock()

	m.log.Info("print service unbound")
	m.publish(Event{State: Disconnected})
}

// Do runs fn with the bound service. A transport failure drops the
// handle, reports OnDisconnected and may schedule a reconnect.
func (m *Manager) Do(ctx context.Context, fn func(printer.Service) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	m.mu.Lock()
	svc := m.svc
	if svc == nil || m.state != Connected {
		m.mu.Unlock()
		return printer.ErrServiceUnbound
	}
	err := fn(svc)
	if err == nil || !printer.IsTransportError(err) {
		m.mu.Unlock()
		return err
	}

	m.gen++
	gen := m.gen
	m.teardownLocked()
	m.state = Disconnected
	l := m.listener
	reconnect := m.opts.AutoReconnect && !m.closed && m.reconnects < m.opts.MaxReconnects
	if reconnect {
		m.reconnects++
	}
	attempt := m.reconnects
	m.mu.Unlock()

	m.log.Warn("print service lost", zap.Error(err))
	m.publish(Event{State: Disconnected, Err: err.Error()})
	l.OnDisconnected()
	if reconnect {
		m.scheduleReconnect(gen, attempt)
	}
	return err
}

func (m *Manager) scheduleReconnect(gen uint64, attempt int) {
	m.log.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", m.opts.ReconnectDelay))
	time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		if gen != m.gen || m.closed {
			m.mu.Unlock()
			return
		}
		f, next, ctx := m.startLocked(context.Background())
		m.mu.Unlock()

		m.publish(Event{State: Connecting})
		m.run(ctx, next, f)
	})
}

// Subscribe returns a channel of state changes. Slow subscribers miss
// events rather than block the manager.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close unbinds and stops reconnecting
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Unbind()
}
