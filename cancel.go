package gmic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Default tick cadence for PollCanceler. The first poll happens after
// defaultInitialDelay, later polls every defaultPollInterval. Cadence is a
// tunable, not a correctness knob.
const (
	defaultInitialDelay = time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// PollCanceler turns a host-supplied "should I cancel?" poll function into a
// context.Context that an asynchronous engine invocation can observe.
//
// The poll runs on timer goroutines, never on the goroutine that created the
// adapter. At most one poll executes at a time: overlapping timer callbacks
// are discarded by an atomic guard. Once the poll reports true the context is
// canceled exactly once and polling stops.
//
// Close is safe to call concurrently with an in-flight tick; a tick that
// raced with Close observes a stale generation and becomes a no-op.
type PollCanceler struct {
	poll     func() bool
	initial  time.Duration
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// gen is bumped by Close. Ticks capture it at schedule time and bail out
	// on wake when it no longer matches.
	gen atomic.Uint64

	// ticking guards against overlapping poll executions.
	ticking atomic.Bool

	// fired records that cancellation has been triggered.
	fired atomic.Bool

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewPollCanceler creates an adapter around poll and starts its periodic
// background tick. Returns ErrNilPoll when poll is nil.
//
// The caller owns the adapter and must Close it when the run it serves
// finishes, regardless of outcome.
func NewPollCanceler(poll func() bool, opts ...PollOption) (*PollCanceler, error) {
	if poll == nil {
		return nil, ErrNilPoll
	}

	pc := &PollCanceler{
		poll:     poll,
		initial:  defaultInitialDelay,
		interval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(pc)
	}
	pc.ctx, pc.cancel = context.WithCancel(context.Background())

	pc.mu.Lock()
	gen := pc.gen.Load()
	pc.timer = time.AfterFunc(pc.initial, func() { pc.tick(gen) })
	pc.mu.Unlock()

	return pc, nil
}

// PollOption configures a PollCanceler during creation.
type PollOption func(*PollCanceler)

// WithPollCadence sets the delay before the first poll and the interval
// between subsequent polls. Non-positive values keep the defaults.
func WithPollCadence(initial, interval time.Duration) PollOption {
	return func(pc *PollCanceler) {
		if initial > 0 {
			pc.initial = initial
		}
		if interval > 0 {
			pc.interval = interval
		}
	}
}

// Token returns the cancellation context. It fails with ErrAdapterClosed
// after Close.
func (pc *PollCanceler) Token() (context.Context, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed {
		return nil, ErrAdapterClosed
	}
	return pc.ctx, nil
}

// tick runs on a timer goroutine. gen is the generation captured when this
// tick was scheduled.
func (pc *PollCanceler) tick(gen uint64) {
	if !pc.ticking.CompareAndSwap(false, true) {
		// Another tick is still inside the poll function.
		return
	}
	defer pc.ticking.Store(false)

	if pc.gen.Load() != gen {
		// Close began after this tick was scheduled.
		return
	}

	if pc.poll() {
		if pc.gen.Load() != gen {
			// Raced with Close; the signal source is gone. Expected, swallow.
			Logger().Warn("gmic: cancellation poll raced with adapter close")
			return
		}
		if pc.fired.CompareAndSwap(false, true) {
			Logger().Debug("gmic: host requested cancellation")
			pc.cancel()
		}
		return
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed || pc.gen.Load() != gen {
		return
	}
	pc.timer.Reset(pc.interval)
}

// Close stops the background tick and releases the cancellation source.
// After Close returns, no future tick can act. Close is idempotent.
func (pc *PollCanceler) Close() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	pc.gen.Add(1)
	timer := pc.timer
	pc.timer = nil
	pc.mu.Unlock()

	timer.Stop()
	// Release the context's resources. The run this adapter served has
	// already reached a terminal state, so the cancel is unobservable.
	pc.cancel()
}
