// Package capture drives one asset through a sequence of 15-minute windows,
// persisting every message its stream session delivers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/daszybak/polymarket_capture/internal/clock"
	"github.com/daszybak/polymarket_capture/internal/ingest"
	"github.com/daszybak/polymarket_capture/internal/metrics"
	"github.com/daszybak/polymarket_capture/internal/stream"
	"github.com/daszybak/polymarket_capture/internal/window"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultStableSession     = 10 * time.Second

	observerTimeout = 30 * time.Second
)

var (
	// ErrDiscovery means the tokens of a window could not be resolved.
	ErrDiscovery = errors.New("token discovery failed")
	// ErrDial means no session could be opened.
	ErrDial = errors.New("couldn't open stream session")

	// errWindowOver is returned by recovery helpers when the window ended
	// before a working session was obtained.
	errWindowOver = errors.New("window ended")
)

// Resolver maps a window slug to the window's outcome tokens.
type Resolver interface {
	Tokens(ctx context.Context, slug string) (window.Tokens, error)
}

// ClosedWindow summarizes a window once the daemon has moved past it.
type ClosedWindow struct {
	Asset    string
	Window   window.Window
	Tokens   window.Tokens
	Records  int
	Path     string
	Skipped  bool
	ClosedAt time.Time
}

// WindowObserver is told about every closed window. Observer errors are
// logged and never stop the capture.
type WindowObserver interface {
	WindowClosed(ctx context.Context, w ClosedWindow) error
}

type Config struct {
	// Directory receives the window files. Empty means the working directory.
	Directory         string
	FlushThreshold    int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// StableSession is how long a session must have stayed up for its loss
	// to reset the reconnect backoff.
	StableSession time.Duration
}

type Option func(*Daemon)

func WithClock(c clock.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

func WithObservers(observers ...WindowObserver) Option {
	return func(d *Daemon) { d.observers = append(d.observers, observers...) }
}

// Daemon captures a single asset. All of its state is owned by the
// goroutine calling Run.
type Daemon struct {
	asset     string
	cfg       Config
	resolver  Resolver
	dialer    stream.Dialer
	clock     clock.Clock
	log       *slog.Logger
	metrics   *metrics.Metrics
	observers []WindowObserver

	session stream.Session
	buffer  *ingest.Buffer

	// lossStreak counts sessions lost before they became stable.
	lossStreak  int
	lossBackoff *backoff.ExponentialBackOff
	connectedAt time.Time

	closedWindows chan ClosedWindow
	notifying     sync.WaitGroup
}

func New(asset string, cfg Config, resolver Resolver, dialer stream.Dialer, opts ...Option) *Daemon {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(DefaultMaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.StableSession <= 0 {
		cfg.StableSession = DefaultStableSession
	}

	d := &Daemon{
		asset:    asset,
		cfg:      cfg,
		resolver: resolver,
		dialer:   dialer,
		clock:    clock.Real(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "capture", "asset", asset)
	d.lossBackoff = d.newBackOff()
	return d
}

func (d *Daemon) Asset() string {
	return d.asset
}

// Run sleeps until the next window opens and then captures n consecutive
// windows. Cancelling ctx stops the capture; whatever is buffered is
// flushed and the session closed before Run returns. A cancelled capture is
// not an error.
func (d *Daemon) Run(ctx context.Context, n int) (err error) {
	if n <= 0 {
		return nil
	}

	windows := window.Schedule(d.clock.Now(), d.asset, n)
	first := windows[0]

	buffer, err := ingest.New(d.cfg.Directory, first.Slug(), d.cfg.FlushThreshold)
	if err != nil {
		return fmt.Errorf("couldn't create ingest buffer: %w", err)
	}
	buffer.OnFlush(func(o ingest.FlushOutcome) {
		d.metrics.Flushed(d.asset, o.Records, buffer.Len())
		d.log.Debug("flushed records", "path", o.Path, "records", o.Records)
	})
	d.buffer = buffer

	d.log.Info("sleeping till next window", "slug", first.Slug(), "wait", window.Until(d.clock, first.StartTime()))
	if err := window.Wait(ctx, d.clock, first.StartTime()); err != nil {
		d.log.Info("stopped before the first window", "reason", err)
		return nil
	}

	d.startObservers(ctx, n)
	defer func() {
		if shutdownErr := d.shutdown(); err == nil {
			err = shutdownErr
		}
	}()

	for i, w := range windows {
		var next *window.Window
		if i+1 < len(windows) {
			next = &windows[i+1]
		}

		closed, err := d.captureWindow(ctx, w, next)
		if err != nil {
			if ctx.Err() != nil {
				d.log.Info("capture stopped", "slug", w.Slug(), "reason", ctx.Err())
				return d.closePartial(closed)
			}
			return err
		}
		d.notify(closed)
	}

	d.log.Info("captured all windows", "windows", n)
	return nil
}

// captureWindow runs the ACTIVE state for w and the rotation that ends it.
// On entry the buffer already targets w.
func (d *Daemon) captureWindow(ctx context.Context, w window.Window, next *window.Window) (ClosedWindow, error) {
	log := d.log.With("slug", w.Slug())
	closed := ClosedWindow{
		Asset:  d.asset,
		Window: w,
		Path:   d.buffer.Path(),
	}

	tokens, err := d.resolve(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		log.Warn("skipping window", "error", err)
		return d.skip(ctx, w, next, closed)
	}
	closed.Tokens = tokens

	if err := d.subscribe(ctx, w, tokens); err != nil {
		if !errors.Is(err, errWindowOver) {
			return closed, err
		}
		log.Warn("skipping window", "error", err)
		return d.skip(ctx, w, next, closed)
	}
	log.Info("monitoring window", "tokens", tokens, "for", window.Until(d.clock, w.End()))

capture:
	for {
		ev, err := d.session.Next(ctx, w.End())
		if err != nil {
			return closed, err
		}

		switch ev.Kind {
		case stream.MessageReceived:
			if err := d.buffer.Append(ev.Record); err != nil {
				d.metrics.FlushFailed(d.asset)
				return closed, fmt.Errorf("couldn't append record to %s: %w", w.Slug(), err)
			}
			closed.Records++
			d.metrics.RecordCaptured(d.asset, d.buffer.Len())
		case stream.ConnectionLost:
			log.Warn("connection closed, reconnecting", "error", ev.Reason)
			d.metrics.Reconnected(d.asset)
			if d.clock.Now().Sub(d.connectedAt) >= d.cfg.StableSession {
				d.resetLosses()
			}
			if err := d.recover(ctx, w, tokens); err != nil {
				if !errors.Is(err, errWindowOver) {
					return closed, err
				}
				log.Warn("window ended while reconnecting", "error", err)
				break capture
			}
		case stream.DeadlineReached:
			break capture
		default:
			return closed, fmt.Errorf("unexpected stream event %s", ev.Kind)
		}
	}

	log.Info("timeout for window, moving onto the next", "records", closed.Records)
	d.send(ctx, tokens, stream.Unsubscribe)

	if err := d.retarget(next); err != nil {
		return closed, err
	}
	if next != nil {
		d.replaceSession(ctx, *next)
	}

	d.metrics.WindowCompleted(d.asset)
	closed.ClosedAt = d.clock.Now()
	return closed, nil
}

// skip waits out a window that cannot be captured and retargets the buffer.
func (d *Daemon) skip(ctx context.Context, w window.Window, next *window.Window, closed ClosedWindow) (ClosedWindow, error) {
	d.metrics.WindowSkipped(d.asset)
	closed.Skipped = true

	if err := window.Wait(ctx, d.clock, w.End()); err != nil {
		return closed, err
	}
	if err := d.retarget(next); err != nil {
		return closed, err
	}
	closed.ClosedAt = d.clock.Now()
	return closed, nil
}

// closePartial flushes a window cut short by cancellation and reports it.
// Windows whose tokens were never resolved are not reported.
func (d *Daemon) closePartial(closed ClosedWindow) error {
	if _, err := d.buffer.Flush(); err != nil {
		d.metrics.FlushFailed(d.asset)
		return fmt.Errorf("couldn't flush %s: %w", d.buffer.Name(), err)
	}
	if closed.Tokens == (window.Tokens{}) {
		return nil
	}
	closed.ClosedAt = d.clock.Now()
	d.notify(closed)
	return nil
}

// retarget flushes the outgoing window and points the buffer at next. The
// last window is only flushed.
func (d *Daemon) retarget(next *window.Window) error {
	var err error
	if next == nil {
		_, err = d.buffer.Flush()
	} else {
		_, err = d.buffer.Rotate(next.Slug())
	}
	if err != nil {
		d.metrics.FlushFailed(d.asset)
		return fmt.Errorf("couldn't flush %s: %w", d.buffer.Name(), err)
	}
	return nil
}

// resolve retries discovery with backoff until it succeeds or w ends.
func (d *Daemon) resolve(ctx context.Context, w window.Window) (window.Tokens, error) {
	var tokens window.Tokens

	op := func() error {
		t, err := d.resolver.Tokens(ctx, w.Slug())
		if err != nil {
			d.metrics.DiscoveryFailed(d.asset)
			return err
		}
		tokens = t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.log.Warn("couldn't resolve tokens, retrying", "slug", w.Slug(), "error", err, "retry_in", wait)
	}

	if err := d.retry(ctx, w.End(), op, notify); err != nil {
		if ctx.Err() != nil {
			return tokens, ctx.Err()
		}
		return tokens, fmt.Errorf("%w: %s: %w", ErrDiscovery, w.Slug(), err)
	}
	return tokens, nil
}

// subscribe sends the subscription for tokens on the current session,
// opening a session first if there is none. A failed send is handled like a
// lost connection.
func (d *Daemon) subscribe(ctx context.Context, w window.Window, tokens window.Tokens) error {
	if d.session == nil {
		if err := d.connect(ctx, w.End()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", errWindowOver, err)
		}
	}

	err := d.session.Send(ctx, tokens, stream.Subscribe)
	if err == nil {
		return nil
	}
	d.log.Warn("couldn't subscribe, replacing session", "slug", w.Slug(), "error", err)
	return d.recover(ctx, w, tokens)
}

// recover replaces the session and subscribes tokens again. Sessions lost
// before they became stable are spaced out with exponential backoff. Returns
// errWindowOver if w ends first.
func (d *Daemon) recover(ctx context.Context, w window.Window, tokens window.Tokens) error {
	for {
		d.closeSession()

		if d.lossStreak > 0 {
			wait := d.lossBackoff.NextBackOff()
			d.log.Warn("connection keeps closing, backing off", "slug", w.Slug(), "losses", d.lossStreak, "wait", wait)
			reached, err := d.sleepUntil(ctx, w.End(), wait)
			if err != nil {
				return err
			}
			if reached {
				return errWindowOver
			}
		}
		d.lossStreak++

		if err := d.connect(ctx, w.End()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", errWindowOver, err)
		}

		err := d.session.Send(ctx, tokens, stream.Subscribe)
		if err == nil {
			return nil
		}
		d.log.Warn("couldn't subscribe on new session", "slug", w.Slug(), "error", err)
	}
}

// replaceSession swaps in a fresh session for the next window. A failure is
// only logged; the next window dials again before subscribing.
func (d *Daemon) replaceSession(ctx context.Context, next window.Window) {
	d.closeSession()
	s, err := d.dialer.Dial(ctx)
	if err != nil {
		d.log.Warn("couldn't open session for next window", "slug", next.Slug(), "error", err)
		return
	}
	d.session = s
	d.connectedAt = d.clock.Now()
}

// connect dials with backoff until a session opens or until passes.
func (d *Daemon) connect(ctx context.Context, until time.Time) error {
	op := func() error {
		s, err := d.dialer.Dial(ctx)
		if err != nil {
			return err
		}
		d.session = s
		d.connectedAt = d.clock.Now()
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.log.Warn("couldn't connect, retrying", "error", err, "retry_in", wait)
	}

	if err := d.retry(ctx, until, op, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrDial, err)
	}
	return nil
}

// retry runs op until it succeeds, ctx is done or until passes. Waits run
// on the daemon clock and never reach past until; op gets one last attempt
// at until.
func (d *Daemon) retry(ctx context.Context, until time.Time, op backoff.Operation, notify backoff.Notify) error {
	b := &untilBackOff{BackOff: d.newBackOff(), clock: d.clock, until: until}
	return backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, ctx), notify, &clockTimer{clock: d.clock})
}

// send writes a control message, warning instead when no session is open.
// Failures are logged; the read side reports a broken connection.
func (d *Daemon) send(ctx context.Context, tokens window.Tokens, op stream.Operation) {
	if d.session == nil {
		d.log.Warn("unable to send control message, no open session", "operation", op)
		return
	}
	if err := d.session.Send(ctx, tokens, op); err != nil {
		d.log.Warn("couldn't send control message", "operation", op, "error", err)
	}
}

func (d *Daemon) closeSession() {
	if d.session == nil {
		return
	}
	if err := d.session.Close(); err != nil {
		d.log.Debug("couldn't close session", "error", err)
	}
	d.session = nil
}

// sleepUntil waits for wait, cut short at until. It reports whether until
// has been reached.
func (d *Daemon) sleepUntil(ctx context.Context, until time.Time, wait time.Duration) (bool, error) {
	wait = min(wait, window.Until(d.clock, until))
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-d.clock.After(wait):
	}
	return !d.clock.Now().Before(until), nil
}

func (d *Daemon) resetLosses() {
	if d.lossStreak == 0 {
		return
	}
	d.lossStreak = 0
	d.lossBackoff.Reset()
}

func (d *Daemon) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.ReconnectDelay
	b.MaxInterval = d.cfg.MaxReconnectDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// notify queues a closed window for the observers. They run on their own
// goroutine, in window order, so a slow observer never delays the next
// window.
func (d *Daemon) notify(closed ClosedWindow) {
	d.log.Info("window closed", "slug", closed.Window.Slug(), "records", closed.Records, "path", closed.Path, "skipped", closed.Skipped)
	if d.closedWindows != nil {
		d.closedWindows <- closed
	}
}

func (d *Daemon) startObservers(ctx context.Context, windows int) {
	if len(d.observers) == 0 {
		return
	}
	d.closedWindows = make(chan ClosedWindow, windows)
	ctx = context.WithoutCancel(ctx)

	d.notifying.Add(1)
	go func() {
		defer d.notifying.Done()
		for closed := range d.closedWindows {
			d.observe(ctx, closed)
		}
	}()
}

func (d *Daemon) observe(ctx context.Context, closed ClosedWindow) {
	ctx, cancel := context.WithTimeout(ctx, observerTimeout)
	defer cancel()

	for _, o := range d.observers {
		if err := o.WindowClosed(ctx, closed); err != nil {
			d.log.Warn("window observer failed", "slug", closed.Window.Slug(), "error", err)
		}
	}
}

// shutdown flushes whatever is pending, then closes the session.
func (d *Daemon) shutdown() error {
	outcome, err := d.buffer.Flush()
	if err != nil {
		d.metrics.FlushFailed(d.asset)
		d.log.Error("final flush failed", "path", outcome.Path, "pending", d.buffer.Len(), "error", err)
	} else if outcome.Records > 0 {
		d.log.Info("final flush", "path", outcome.Path, "records", outcome.Records)
	}

	d.closeSession()
	if d.closedWindows != nil {
		close(d.closedWindows)
		d.notifying.Wait()
	}

	if err != nil {
		return fmt.Errorf("couldn't flush on shutdown: %w", err)
	}
	return nil
}

// untilBackOff caps every wait at the time left before until and stops
// once until has passed.
type untilBackOff struct {
	backoff.BackOff
	clock clock.Clock
	until time.Time
}

func (b *untilBackOff) NextBackOff() time.Duration {
	left := window.Until(b.clock, b.until)
	if left <= 0 {
		return backoff.Stop
	}
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	return min(next, left)
}

// clockTimer runs backoff waits on a clock.Clock.
type clockTimer struct {
	clock clock.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.c = t.clock.After(d)
}

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
