package outstation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"avaneesh/dnp3-bridge/pkg/device"
	"avaneesh/dnp3-bridge/pkg/point"
	"avaneesh/dnp3-bridge/pkg/tree"
)

var errRefused = errors.New("refused")

type fakeSession struct {
	mu      sync.Mutex
	static  []point.Raw
	events  []point.Raw
	calls   []string
	ops     []point.Command
	readErr error
	opErr   error
	closed  int
}

func (s *fakeSession) ReadStatic(context.Context) ([]point.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "static")
	if s.readErr != nil {
		return nil, s.readErr
	}
	return append([]point.Raw(nil), s.static...), nil
}

func (s *fakeSession) ReadEvents(context.Context) ([]point.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "events")
	if s.readErr != nil {
		return nil, s.readErr
	}
	return append([]point.Raw(nil), s.events...), nil
}

func (s *fakeSession) Operate(_ context.Context, cmd point.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "operate")
	if s.opErr != nil {
		return s.opErr
	}
	s.ops = append(s.ops, cmd)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) Ops() []point.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]point.Command(nil), s.ops...)
}

func (s *fakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) SetStatic(raws ...point.Raw) {
	s.mu.Lock()
	s.static = raws
	s.mu.Unlock()
}

// fakeOpener hands out a new session per Open, each seeded from template
type fakeOpener struct {
	mu       sync.Mutex
	err      error
	template []point.Raw
	sessions []*fakeSession
	configs  []device.Config
	handlers []device.Handler

	// onOpen runs inside every Open, before the session is handed out
	onOpen func()
}

func (o *fakeOpener) Open(_ context.Context, cfg device.Config, h device.Handler) (device.Session, error) {
	o.mu.Lock()
	hook := o.onOpen
	o.mu.Unlock()
	if hook != nil {
		hook()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs = append(o.configs, cfg)
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSession{static: append([]point.Raw(nil), o.template...)}
	o.sessions = append(o.sessions, s)
	o.handlers = append(o.handlers, h)
	return s, nil
}

func (o *fakeOpener) setOnOpen(fn func()) {
	o.mu.Lock()
	o.onOpen = fn
	o.mu.Unlock()
}

func (o *fakeOpener) last() *fakeSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sessions) == 0 {
		return nil
	}
	return o.sessions[len(o.sessions)-1]
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.configs)
}

type fakeHost struct {
	mu        sync.Mutex
	ports     []string
	persisted []string
	forgotten []string
	tracked   []*Controller
}

func (h *fakeHost) SerialPorts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports
}

func (h *fakeHost) Persist(n *tree.Node) {
	h.mu.Lock()
	h.persisted = append(h.persisted, n.Name())
	h.mu.Unlock()
}

func (h *fakeHost) Forget(c *Controller) {
	h.mu.Lock()
	h.forgotten = append(h.forgotten, c.Name())
	h.mu.Unlock()
}

func (h *fakeHost) Track(c *Controller) {
	h.mu.Lock()
	h.tracked = append(h.tracked, c)
	h.mu.Unlock()
}

// gatedSession blocks every call until release is closed and records how
// many calls were in flight at once
type gatedSession struct {
	release chan struct{}
	entered chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32

	mu     sync.Mutex
	events []string
}

func newGatedSession() *gatedSession {
	return &gatedSession{release: make(chan struct{}), entered: make(chan struct{}, 16)}
}

func (s *gatedSession) call(name string) {
	n := s.inflight.Add(1)
	for {
		peak := s.maxInflight.Load()
		if n <= peak || s.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}
	s.record(name)
	s.entered <- struct{}{}
	<-s.release
	s.record(name + " done")
	s.inflight.Add(-1)
}

func (s *gatedSession) record(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *gatedSession) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *gatedSession) ReadStatic(context.Context) ([]point.Raw, error) {
	s.call("static")
	return nil, nil
}

func (s *gatedSession) ReadEvents(context.Context) ([]point.Raw, error) {
	s.call("events")
	return nil, nil
}

func (s *gatedSession) Operate(context.Context, point.Command) error {
	s.call("operate")
	return nil
}

func (s *gatedSession) Close() error {
	s.record("close")
	return nil
}

type gatedOpener struct {
	session *gatedSession
}

func (o *gatedOpener) Open(context.Context, device.Config, device.Handler) (device.Session, error) {
	return o.session, nil
}
