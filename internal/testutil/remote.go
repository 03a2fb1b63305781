package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
)

// Method names accepted by FakeRemote.Hold, Release and Calls.
const (
	MethodGetSession       = "GetSession"
	MethodGetEnrollment    = "GetActiveEnrollment"
	MethodCreateEnrollment = "CreateEnrollment"
	MethodInsertResponse   = "InsertActivityResponse"
	MethodListResponses    = "ListActivityResponses"
)

var allMethods = []string{
	MethodGetSession,
	MethodGetEnrollment,
	MethodCreateEnrollment,
	MethodInsertResponse,
	MethodListResponses,
}

// FakeRemote is an in-memory remote.Service for tests.
//
// Any method can be held: calls block until Release (or ReleaseAll) or
// until their ctx is cancelled, which simulates a network that never
// answers. Errors are injected per method with Fail.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeRemote struct {
	mu          sync.Mutex
	cond        *sync.Cond
	identity    *model.Identity
	tokens      map[string]model.Identity
	enrollments map[string]model.Enrollment
	responses   []model.ActivityResponse
	errs        map[string]error
	gates       map[string]chan struct{}
	calls       map[string]int
	ids         *FixedIDGenerator
	created     time.Time
	hub         *remote.Hub
}

var _ remote.Service = (*FakeRemote)(nil)

// NewFakeRemote creates a fake with no session and no data.
func NewFakeRemote() *FakeRemote {
	f := &FakeRemote{
		tokens:      make(map[string]model.Identity),
		enrollments: make(map[string]model.Enrollment),
		errs:        make(map[string]error),
		gates:       make(map[string]chan struct{}),
		calls:       make(map[string]int),
		ids:         NewFixedIDGenerator("enr-remote-1", "enr-remote-2", "enr-remote-3"),
		created:     fakeEpoch,
		hub:         remote.NewHub(),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// SetIdentity sets the identity GetSession resolves to (nil for none).
func (f *FakeRemote) SetIdentity(id *model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = id
}

// AddToken makes SignIn with token resolve to id.
func (f *FakeRemote) AddToken(token string, id model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = id
}

// SignIn resolves token to the identity registered with AddToken, makes it
// the current session and publishes SIGNED_IN. It counts as a GetSession
// call.
func (f *FakeRemote) SignIn(ctx context.Context, token string) (*model.Identity, error) {
	if err := f.enter(ctx, MethodGetSession); err != nil {
		return nil, err
	}
	f.mu.Lock()
	id, ok := f.tokens[token]
	if ok {
		f.identity = &id
	}
	f.mu.Unlock()
	if !ok {
		return nil, model.ErrAuthSessionMissing
	}
	f.hub.Publish(remote.AuthEvent{Type: remote.SignedIn, Identity: &id})
	return &id, nil
}

// SignOut ends the current session and publishes SIGNED_OUT.
func (f *FakeRemote) SignOut() {
	f.mu.Lock()
	f.identity = nil
	f.mu.Unlock()
	f.hub.Publish(remote.AuthEvent{Type: remote.SignedOut})
}

// PutEnrollment stores e as the active enrollment of e.UserID.
func (f *FakeRemote) PutEnrollment(e model.Enrollment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments[e.UserID] = e
}

// Fail makes method return err (nil clears it).
func (f *FakeRemote) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Hold makes calls to the given methods block until released.
// With no arguments every method is held.
func (f *FakeRemote) Hold(methods ...string) {
	if len(methods) == 0 {
		methods = allMethods
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range methods {
		if _, ok := f.gates[m]; !ok {
			f.gates[m] = make(chan struct{})
		}
	}
}

// Release lets held calls to method proceed.
func (f *FakeRemote) Release(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gates[method]; ok {
		close(g)
		delete(f.gates, method)
	}
}

// ReleaseAll releases every held method.
func (f *FakeRemote) ReleaseAll() {
	for _, m := range allMethods {
		f.Release(m)
	}
}

// Calls returns how many times method was entered.
func (f *FakeRemote) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// WaitCalls blocks until method has been entered at least n times.
func (f *FakeRemote) WaitCalls(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.calls[method] < n {
		f.cond.Wait()
	}
}

// Responses returns every stored activity response.
func (f *FakeRemote) Responses() []model.ActivityResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ActivityResponse(nil), f.responses...)
}

// Emit publishes an auth event to subscribers.
func (f *FakeRemote) Emit(ev remote.AuthEvent) {
	f.hub.Publish(ev)
}

// Subscribers returns the number of live auth subscriptions.
func (f *FakeRemote) Subscribers() int {
	return f.hub.Subscribers()
}

// Close stops auth event delivery.
func (f *FakeRemote) Close() {
	f.ReleaseAll()
	f.hub.Close()
}

// enter records the call, waits on the method's gate and returns its
// injected error.
func (f *FakeRemote) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	f.cond.Broadcast()
	gate := f.gates[method]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[method]
}

// GetSession implements remote.Service.
func (f *FakeRemote) GetSession(ctx context.Context) (*model.Identity, error) {
	if err := f.enter(ctx, MethodGetSession); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity == nil {
		return nil, nil
	}
	id := *f.identity
	return &id, nil
}

// GetActiveEnrollment implements remote.Service.
func (f *FakeRemote) GetActiveEnrollment(ctx context.Context, userID string) (*model.Enrollment, error) {
	if err := f.enter(ctx, MethodGetEnrollment); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// CreateEnrollment implements remote.Service. The enrollment belongs to
// the current identity.
func (f *FakeRemote) CreateEnrollment(ctx context.Context, program, level, locale string) (*model.Enrollment, error) {
	if err := f.enter(ctx, MethodCreateEnrollment); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity == nil {
		return nil, fmt.Errorf("create enrollment: %w", model.ErrAuthSessionMissing)
	}
	e := model.Enrollment{
		ID:         f.ids.Generate(),
		UserID:     f.identity.UserID,
		Program:    program,
		TrackLevel: level,
		Locale:     locale,
		CreatedAt:  f.created,
	}
	f.enrollments[e.UserID] = e
	return &e, nil
}

// InsertActivityResponse implements remote.Service.
func (f *FakeRemote) InsertActivityResponse(ctx context.Context, ar model.ActivityResponse) error {
	if err := f.enter(ctx, MethodInsertResponse); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, ar)
	return nil
}

// ListActivityResponses implements remote.Service.
func (f *FakeRemote) ListActivityResponses(ctx context.Context, userID string, week int) ([]int, error) {
	if err := f.enter(ctx, MethodListResponses); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[int]bool)
	var out []int
	for _, ar := range f.responses {
		if ar.UserID == userID && ar.WeekNumber == week && !seen[ar.SectionIndex] {
			seen[ar.SectionIndex] = true
			out = append(out, ar.SectionIndex)
		}
	}
	return out, nil
}

// Subscribe implements remote.Service.
func (f *FakeRemote) Subscribe(fn func(remote.AuthEvent)) remote.Subscription {
	return f.hub.Subscribe(fn)
}
