// Package armed implements the Kuntur on/off state machine. Arming starts
// the camera streams after the backend confirms; disarming stops the streams
// before the backend is told.
package armed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/metrics"
)

// Backend is the remote side of arming.
type Backend interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}

// Streams is what the controller drives on arm and disarm. stream.Manager
// satisfies it.
type Streams interface {
	StartAllStreams(ctx context.Context)
	StopAllStreams(ctx context.Context) error
}

// Options configures a Controller. Zero delays fall back to the defaults.
type Options struct {
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// SkipInitialRefresh disables the status fetch launched by NewController.
	SkipInitialRefresh bool
}

// Controller owns the armed state and sequences arming with the stream sessions.
type Controller struct {
	backend Backend
	streams Streams
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	state      State
	refreshGen uint64

	// The stream start launched by the last activation.
	startCancel context.CancelFunc
	startDone   chan struct{}

	listeners map[int]func(State)
	nextID    int
}

// NewController returns a controller in the off state and launches one
// asynchronous status refresh.
func NewController(backend Backend, streams Streams, opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend:   backend,
		streams:   streams,
		now:       now,
		log:       logging.OrDiscard(opts.Logger).With("component", "armed"),
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(State)),
	}
	c.state.ChangedAt = now()
	c.metrics.Armed(false)

	if !opts.SkipInitialRefresh {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.Refresh(ctx); err != nil {
				c.log.Debug("initial status refresh", "error", err)
			}
		}()
	}
	return c
}

// State returns a copy of the current armed state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state change. fn runs outside the lock.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close cancels in-flight backend calls and stream starts and waits for the
// controller's own goroutines. It does not stop the streams.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.listeners = nil
	c.mu.Unlock()

	c.wg.Wait()
}

// Toggle activates a settled off controller and deactivates a settled on
// one. While a transition is running it does nothing and returns
// ErrTransitioning.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	phase, closed := c.state.Phase, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case phase == PhaseOff:
		return c.Activate(ctx)
	case phase == PhaseOn:
		return c.Deactivate(ctx)
	default:
		return ErrTransitioning
	}
}

// Activate arms the backend, reports on and then starts all streams. On a
// backend failure the controller returns to off with LastError set.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.Phase == PhaseOn {
		c.mu.Unlock()
		return nil
	}
	c.beginLocked(PhaseActivating)
	emit := c.commitLocked()
	c.mu.Unlock()
	emit()

	c.log.Info("activating")
	actx, cancel := c.merge(ctx)
	err := c.backend.Arm(actx)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Transitioning = false
	c.metrics.ArmedTransition("activate", err == nil)
	if err != nil {
		c.setLocked(Off)
		c.state.LastError = fmt.Sprintf("Could not activate Kuntur: %v", err)
		c.log.Warn("activate failed", "error", err)
		emit = c.commitLocked()
		c.mu.Unlock()
		emit()
		return fmt.Errorf("arming: %w", err)
	}

	c.setLocked(On)
	c.startStreamsLocked()
	c.log.Info("kuntur on")
	emit = c.commitLocked()
	c.mu.Unlock()
	emit()
	return nil
}

// Deactivate stops every stream, waits for that to finish, then disarms the
// backend and reports off. It always ends off; a failure on the way is kept
// in LastError.
func (c *Controller) Deactivate(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.Phase == PhaseOff {
		c.mu.Unlock()
		return nil
	}
	c.beginLocked(PhaseDeactivating)
	cancelStart, startDone := c.detachStartLocked()
	emit := c.commitLocked()
	c.mu.Unlock()
	emit()

	c.log.Info("deactivating")
	dctx, cancel := c.merge(ctx)
	defer cancel()

	stopErr := c.stopStreams(dctx, cancelStart, startDone)
	disarmErr := c.backend.Disarm(dctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.Transitioning = false
	c.setLocked(Off)
	c.metrics.ArmedTransition("deactivate", stopErr == nil && disarmErr == nil)

	var err error
	switch {
	case stopErr != nil:
		err = fmt.Errorf("stopping streams: %w", stopErr)
	case disarmErr != nil:
		err = fmt.Errorf("disarming: %w", disarmErr)
	}
	if err != nil {
		c.state.LastError = fmt.Sprintf("Could not deactivate Kuntur cleanly: %v", err)
		c.log.Warn("deactivate finished with error", "error", err)
	} else {
		c.log.Info("kuntur off")
	}
	emit = c.commitLocked()
	c.mu.Unlock()
	emit()
	return err
}

// Refresh fetches the backend status and adopts it. When the backend
// disagrees with the local state the streams are brought in line: started
// after reporting on, stopped before reporting off. A result that arrives
// after a transition began is discarded.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.refreshGen++
	gen := c.refreshGen
	c.state.Refreshing = true
	emit := c.commitLocked()
	c.mu.Unlock()
	emit()

	rctx, cancel := c.merge(ctx)
	remote, err := c.backend.Status(rctx)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if gen != c.refreshGen || c.state.Transitioning {
		c.mu.Unlock()
		c.log.Debug("discarding stale status refresh")
		return nil
	}
	c.state.Refreshing = false

	if err != nil {
		c.state.LastError = fmt.Sprintf("Could not fetch Kuntur status: %v", err)
		emit = c.commitLocked()
		c.mu.Unlock()
		emit()
		return fmt.Errorf("fetching status: %w", err)
	}
	c.state.LastError = ""

	switch {
	case remote == On && c.state.Status == Off:
		c.log.Info("backend reports on, starting streams")
		c.setLocked(On)
		c.startStreamsLocked()
	case remote == Off && c.state.Status == On:
		c.log.Info("backend reports off, stopping streams")
		c.beginLocked(PhaseDeactivating)
		cancelStart, startDone := c.detachStartLocked()
		emit = c.commitLocked()
		c.mu.Unlock()
		emit()

		rctx, cancel := c.merge(ctx)
		stopErr := c.stopStreams(rctx, cancelStart, startDone)
		cancel()

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		c.state.Transitioning = false
		c.setLocked(Off)
		if stopErr != nil {
			c.state.LastError = fmt.Sprintf("Could not stop streams: %v", stopErr)
		}
	}

	emit = c.commitLocked()
	c.mu.Unlock()
	emit()
	return nil
}

func (c *Controller) checkLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.state.Transitioning {
		return ErrTransitioning
	}
	return nil
}

// beginLocked enters a transition phase. Any refresh in flight is
// invalidated.
func (c *Controller) beginLocked(p Phase) {
	c.refreshGen++
	c.state.Phase = p
	c.state.Transitioning = true
	c.state.Refreshing = false
	c.state.LastError = ""
}

// setLocked settles the state machine on s.
func (c *Controller) setLocked(s Status) {
	if s == On {
		c.state.Phase = PhaseOn
	} else {
		c.state.Phase = PhaseOff
	}
	if c.state.Status != s {
		c.state.ChangedAt = c.now()
	}
	c.state.Status = s
	c.metrics.Armed(s == On)
}

// startStreamsLocked launches StartAllStreams under a context that a later
// deactivation can cancel and wait on.
func (c *Controller) startStreamsLocked() {
	sctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.startCancel = cancel
	c.startDone = done

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()
		c.streams.StartAllStreams(sctx)
	}()
}

func (c *Controller) detachStartLocked() (context.CancelFunc, chan struct{}) {
	cancel, done := c.startCancel, c.startDone
	c.startCancel, c.startDone = nil, nil
	return cancel, done
}

// stopStreams cancels and awaits a pending stream start, then stops all
// streams and waits for them to settle.
func (c *Controller) stopStreams(ctx context.Context, cancelStart context.CancelFunc, startDone chan struct{}) error {
	if cancelStart != nil {
		cancelStart()
		select {
		case <-startDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.streams.StopAllStreams(ctx)
}

func (c *Controller) merge(ctx context.Context) (context.Context, context.CancelFunc) {
	mctx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return mctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) commitLocked() func() {
	c.state.Seq++
	st := c.state
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(st)
		}
	}
}
