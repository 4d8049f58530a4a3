package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/daszybak/polymarket_capture/internal/clock"
	"github.com/daszybak/polymarket_capture/internal/stream"
	"github.com/daszybak/polymarket_capture/internal/window"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokensFor(slug string) window.Tokens {
	return window.Tokens{slug + "-up", slug + "-down"}
}

// step is one scripted outcome of Session.Next.
type step struct {
	record   string
	lost     bool
	deadline bool
	// block waits for cancellation and signals fakeNet.blocked.
	block bool
	// advance moves the clock forward before the step is played.
	advance time.Duration
}

func msg(record string) step { return step{record: record} }

var (
	lost     = step{lost: true}
	deadline = step{deadline: true}
	block    = step{block: true}
)

type control struct {
	session int
	tokens  window.Tokens
	op      stream.Operation
	// target is the buffer name at the time the message was sent.
	target string
}

// fakeNet plays a script across all the sessions it hands out. Once the
// script is exhausted every Next reaches its deadline.
type fakeNet struct {
	mu       sync.Mutex
	clock    *clock.FakeClock
	script   []step
	sessions []*fakeSession
	controls []control
	dialErrs int
	blocked  chan struct{}

	// daemon is read when recording controls; set before Run.
	daemon *Daemon
}

func newFakeNet(c *clock.FakeClock, script ...step) *fakeNet {
	return &fakeNet{
		clock:   c,
		script:  script,
		blocked: make(chan struct{}),
	}
}

func (n *fakeNet) Dial(context.Context) (stream.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dialErrs > 0 {
		n.dialErrs--
		return nil, errors.New("dial refused")
	}
	s := &fakeSession{net: n, id: len(n.sessions)}
	n.sessions = append(n.sessions, s)
	return s, nil
}

func (n *fakeNet) pop() (step, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.script) == 0 {
		return step{}, false
	}
	s := n.script[0]
	n.script = n.script[1:]
	return s, true
}

func (n *fakeNet) Controls() []control {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]control(nil), n.controls...)
}

func (n *fakeNet) Sessions() []*fakeSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeSession(nil), n.sessions...)
}

type fakeSession struct {
	net    *fakeNet
	id     int
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Send(_ context.Context, tokens window.Tokens, op stream.Operation) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()

	c := control{session: s.id, tokens: tokens, op: op}
	if s.net.daemon != nil && s.net.daemon.buffer != nil {
		c.target = s.net.daemon.buffer.Name()
	}
	s.net.controls = append(s.net.controls, c)
	return nil
}

func (s *fakeSession) Next(ctx context.Context, end time.Time) (stream.Event, error) {
	if s.Closed() {
		return stream.Lost(errors.New("closed")), nil
	}

	st, ok := s.net.pop()
	if st.advance > 0 {
		s.net.clock.Advance(st.advance)
	}
	switch {
	case !ok || st.deadline:
		s.net.clock.Set(end)
		return stream.Deadline(), nil
	case st.lost:
		return stream.Lost(errors.New("peer went away")), nil
	case st.block:
		close(s.net.blocked)
		<-ctx.Done()
		return stream.Event{}, ctx.Err()
	default:
		return stream.Message([]byte(st.record)), nil
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeResolver answers with tokensFor(slug) unless told to fail.
type fakeResolver struct {
	mu    sync.Mutex
	slugs []string
	// fail returns the error to report for a call, or nil.
	fail func(slug string, call int) error
}

func (r *fakeResolver) Tokens(_ context.Context, slug string) (window.Tokens, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slugs = append(r.slugs, slug)
	if r.fail != nil {
		if err := r.fail(slug, len(r.slugs)); err != nil {
			return window.Tokens{}, err
		}
	}
	return tokensFor(slug), nil
}

func (r *fakeResolver) Slugs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.slugs...)
}

type recordingObserver struct {
	mu     sync.Mutex
	closed []ClosedWindow
}

func (o *recordingObserver) WindowClosed(_ context.Context, w ClosedWindow) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, w)
	return nil
}

func (o *recordingObserver) Closed() []ClosedWindow {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ClosedWindow(nil), o.closed...)
}

type observerFunc func(ctx context.Context, w ClosedWindow) error

func (f observerFunc) WindowClosed(ctx context.Context, w ClosedWindow) error {
	return f(ctx, w)
}

type fakeRunner struct {
	asset string
	run   func(ctx context.Context) error
}

func (r *fakeRunner) Asset() string { return r.asset }

func (r *fakeRunner) Run(ctx context.Context, _ int) error {
	if r.run == nil {
		return nil
	}
	return r.run(ctx)
}

func record(asset string, seq int) string {
	return fmt.Sprintf(`{"asset":%q,"seq":%d}`, asset, seq)
}
