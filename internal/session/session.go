package session

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
)

// Session is the owned session context.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - state listeners run outside the internal lock, on the goroutine that
//     caused the transition
//
// Results of work started before a sign-out are discarded: every transition
// carries the generation it was started under and is dropped when the
// generation has moved on.
type Session struct {
	store      localstore.Store
	remote     remote.Service
	clock      failsafe.Clock
	logger     *slog.Logger
	ids        IDGenerator
	onboarding bool

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      model.AppState
	changed    chan struct{}
	identity   *model.Identity
	enrollment *model.Enrollment
	gen        uint64
	started    bool
	closed     bool
	sub        remote.Subscription
	stopLink   func() bool
	listeners  map[int]func(model.AppState)
	nextListen int

	tasks   failsafe.Tasks
	refresh singleflight.Group
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock driving every failsafe timer.
func WithClock(c failsafe.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithIDGenerator sets the generator for local-only enrollment ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Session) {
		s.ids = g
	}
}

// WithOnboarding routes a freshly ready session through needs_onboarding
// until CompleteOnboarding is called for the user.
func WithOnboarding(enabled bool) Option {
	return func(s *Session) {
		s.onboarding = enabled
	}
}

// New creates a Session in the checking state. Nothing runs until Init.
func New(store localstore.Store, svc remote.Service, opts ...Option) *Session {
	s := &Session{
		store:     store,
		remote:    svc,
		clock:     failsafe.RealClock{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:       UUIDv7Generator{},
		state:     model.StateChecking,
		changed:   make(chan struct{}),
		listeners: make(map[int]func(model.AppState)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// State returns the current application state.
func (s *Session) State() model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the resolved identity, or nil.
func (s *Session) Identity() *model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Enrollment returns the active enrollment, or nil.
func (s *Session) Enrollment() *model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrollment == nil {
		return nil
	}
	e := *s.enrollment
	return &e
}

// ResolveIdentity returns the session identity, asking the remote service
// when none has been resolved yet. Returns (nil, nil) when signed out.
func (s *Session) ResolveIdentity(ctx context.Context) (*model.Identity, error) {
	if id := s.Identity(); id != nil {
		return id, nil
	}
	gen := s.generation()
	id, err := s.remote.GetSession(ctx)
	if err != nil || id == nil {
		return nil, err
	}
	s.setIdentity(gen, *id)
	return id, nil
}

// OnStateChange registers fn for every state transition. The returned
// function removes the registration.
func (s *Session) OnStateChange(fn func(model.AppState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// WaitFor blocks until the state is one of states or ctx is done.
// Returns the state observed last.
func (s *Session) WaitFor(ctx context.Context, states ...model.AppState) (model.AppState, error) {
	for {
		s.mu.Lock()
		cur, ch := s.state, s.changed
		s.mu.Unlock()

		if slices.Contains(states, cur) {
			return cur, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

// Init boots the session.
//
// A cached enrollment makes the session ready before Init returns. Identity
// resolution and reconciliation run in the background; use WaitFor or
// OnStateChange to follow them. ctx bounds the session's lifetime in
// addition to Teardown. Calling Init more than once is a no-op.
func (s *Session) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopLink = context.AfterFunc(ctx, s.cancel)
	gen := s.gen
	s.mu.Unlock()

	sub := s.remote.Subscribe(s.handleAuthEvent)
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	start := s.clock.Now()
	cached := s.loadCache()
	if cached != nil {
		s.adopt(gen, *cached)
	}

	s.tasks.Go(func() {
		s.bootstrap(gen, start, cached)
	})
	return nil
}

// Teardown disposes the auth subscription, cancels in-flight work and waits
// for background tasks. The session cannot be restarted.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub, stop := s.sub, s.stopLink
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if stop != nil {
		stop()
	}
	s.cancel()
	s.tasks.Wait()
}

// SignOut clears every cached enrollment key, forgets the identity and
// resets the state to checking.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.gen++
	s.identity = nil
	s.enrollment = nil
	s.mu.Unlock()

	if err := localstore.ClearEnrollment(s.store); err != nil {
		s.logger.Warn("clear enrollment cache failed", "error", err)
	}
	s.logger.Info("signed out")
	s.forceState(model.StateChecking)
}

// CompleteOnboarding records that the current user finished onboarding and
// moves a needs_onboarding session to ready.
func (s *Session) CompleteOnboarding() error {
	s.mu.Lock()
	e := s.enrollment
	gen := s.gen
	s.mu.Unlock()
	if e == nil {
		return model.ErrAuthSessionMissing
	}

	if err := localstore.MarkOnboarded(s.store, e.UserID); err != nil {
		s.logger.Warn("persist onboarding flag failed", "error", err)
	}
	s.transitionIf(gen, model.StateNeedsOnboarding, model.StateReady)
	return nil
}

// handleAuthEvent runs on the remote's event goroutine. Work that may wait
// on the network is handed to a task so later events are not delayed.
func (s *Session) handleAuthEvent(ev remote.AuthEvent) {
	switch ev.Type {
	case remote.SignedIn:
		if ev.Identity == nil || ev.Identity.UserID == "" {
			return
		}
		id := *ev.Identity
		gen := s.generation()
		if !s.setIdentity(gen, id) {
			return
		}
		s.logger.Info("signed in", "user_id", id.UserID)

		budget := within(s.clock, s.clock.Now(), failsafe.EnrollmentCheckTimeout)
		s.tasks.Go(func() {
			_, _ = s.reconcile(s.ctx, gen, id.UserID, budget)
		})
	case remote.SignedOut:
		s.SignOut()
	}
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// setIdentity stores id if gen is still current.
func (s *Session) setIdentity(gen uint64, id model.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return false
	}
	s.identity = &id
	return true
}

// adopt makes e the active enrollment and moves to ready (or
// needs_onboarding) if gen is still current.
func (s *Session) adopt(gen uint64, e model.Enrollment) bool {
	next := model.StateReady
	if s.onboarding && !localstore.Onboarded(s.store, e.UserID) {
		next = model.StateNeedsOnboarding
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return false
	}
	s.enrollment = &e
	if s.state == model.StateReady {
		// already past onboarding for this session
		next = model.StateReady
	}
	notify := s.setStateLocked(next)
	s.mu.Unlock()

	notify()
	return true
}

// transition moves to next if gen is still current.
func (s *Session) transition(gen uint64, next model.AppState) bool {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return false
	}
	notify := s.setStateLocked(next)
	s.mu.Unlock()

	notify()
	return true
}

// transitionIf moves from one state to next if gen is current and the
// session is in from.
func (s *Session) transitionIf(gen uint64, from, next model.AppState) bool {
	s.mu.Lock()
	if gen != s.gen || s.state != from {
		s.mu.Unlock()
		return false
	}
	notify := s.setStateLocked(next)
	s.mu.Unlock()

	notify()
	return true
}

func (s *Session) forceState(next model.AppState) {
	s.mu.Lock()
	notify := s.setStateLocked(next)
	s.mu.Unlock()
	notify()
}

// setStateLocked updates the state and returns a func that notifies
// listeners. Caller must hold s.mu and call the func after unlocking.
func (s *Session) setStateLocked(next model.AppState) func() {
	if s.state == next {
		return func() {}
	}
	prev := s.state
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})

	fns := make([]func(model.AppState), 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}

	s.logger.Debug("state changed", "from", prev, "to", next)
	return func() {
		for _, fn := range fns {
			fn(next)
		}
	}
}
