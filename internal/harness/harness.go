package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/progsync/internal/activity"
	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/lesson"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/session"
	"github.com/roach88/progsync/internal/testutil"
)

// stepTimeout bounds how long a step waits on real goroutines. Failsafe
// deadlines run on the fake clock and never consume it.
const stepTimeout = 2 * time.Second

// Harness is the scenario execution engine.
// Each scenario runs against a fresh memory store, fake remote and fake
// clock.
type Harness struct {
	scenario *Scenario
	store    *localstore.MemoryStore
	remote   *testutil.FakeRemote
	clock    *testutil.FakeClock
	session  *session.Session
	catalog  *lesson.Catalog
	lesson   *lesson.Controller
	pipeline *activity.Pipeline
	user     string
	logger   *slog.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes engine logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Seed the store and remote from setup
// 2. Execute steps in order, checking expect clauses
// 3. Evaluate assertions
// 4. Release held calls and tear everything down
//
// An error is returned when the scenario cannot run (bad setup, a step
// that never completes); expectation failures are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		store:    localstore.NewMemoryStore(),
		remote:   testutil.NewFakeRemote(),
		clock:    testutil.NewFakeClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.close()

	if err := h.setup(); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.session = session.New(h.store, h.remote,
		session.WithClock(h.clock),
		session.WithLogger(h.logger),
		session.WithIDGenerator(testutil.NewFixedIDGenerator("local-1", "local-2", "local-3")),
		session.WithOnboarding(scenario.Setup.Onboarding),
	)

	result := NewResult()
	for i, step := range scenario.Steps {
		out, err := h.execute(step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Do, err)
		}
		result.AddTrace(step.Do, out)

		if step.Expect != nil && !matchSubset(out, step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %v, got %v", i, step.Do, step.Expect, out))
		}
	}

	actx := &AssertionContext{
		Session: h.session,
		Store:   h.store,
		Remote:  h.remote,
		Lesson:  h.lesson,
		UserID:  h.user,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) setup() error {
	s := h.scenario.Setup
	h.remote.SetIdentity(s.Identity.identity())
	for _, e := range s.RemoteEnrollments {
		h.remote.PutEnrollment(e.enrollment())
	}

	if s.Cache != nil {
		if _, err := localstore.SaveEnrollment(h.store, s.Cache.enrollment()); err != nil {
			return fmt.Errorf("seed cache: %w", err)
		}
	}

	for i, c := range s.Completions {
		d := model.Durability(c.Durability)
		if d == "" {
			d = model.DurabilityConfirmed
		}
		rec := model.SectionCompletionRecord{
			WeekNumber:   c.Week,
			SectionIndex: c.Section,
			ResponseText: strings.Repeat("a", activity.MinResponseLength),
			SubmittedAt:  h.clock.Now(),
			Durability:   d,
		}
		if _, err := localstore.SaveCompletion(h.store, c.UserID, rec); err != nil {
			return fmt.Errorf("seed completions[%d]: %w", i, err)
		}
	}

	if h.scenario.Catalog != "" {
		cat, err := lesson.LoadCatalog(h.scenario.Catalog)
		if err != nil {
			return err
		}
		h.catalog = cat
	}
	return nil
}

// close releases held calls first so nothing blocks teardown.
func (h *Harness) close() {
	h.remote.ReleaseAll()
	if h.lesson != nil {
		h.lesson.Teardown()
		h.pipeline.Wait()
	}
	if h.session != nil {
		h.session.Teardown()
	}
	h.remote.Close()
}

func (h *Harness) execute(step Step) (map[string]any, error) {
	switch step.Do {
	case StepInit:
		return nil, h.session.Init(context.Background())

	case StepWaitState:
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		defer cancel()
		state, err := h.session.WaitFor(ctx, model.AppState(step.State))
		if err != nil {
			return nil, fmt.Errorf("state %s not reached (last %s): %w", step.State, state, err)
		}
		return map[string]any{"state": string(state)}, nil

	case StepHold:
		if step.Method == "" {
			h.remote.Hold()
		} else {
			h.remote.Hold(step.Method)
		}
	case StepRelease:
		if step.Method == "" {
			h.remote.ReleaseAll()
		} else {
			h.remote.Release(step.Method)
		}
	case StepFail:
		var err error
		if step.Error != "" {
			err = errors.New(step.Error)
		}
		h.remote.Fail(step.Method, err)
	case StepWaitCalls:
		return nil, waitUntil(func() bool {
			return h.remote.Calls(step.Method) >= step.Count
		})

	case StepAdvance:
		if step.Timer > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
			defer cancel()
			if err := h.clock.WaitTimer(ctx, millis(step.Timer)); err != nil {
				return nil, fmt.Errorf("no %dms timer scheduled: %w", step.Timer, err)
			}
		}
		h.clock.Advance(millis(step.MS))

	case StepSetIdentity:
		h.remote.SetIdentity(step.Identity.identity())
	case StepSignIn:
		id := step.Identity.identity()
		h.remote.SetIdentity(id)
		h.remote.Emit(remote.AuthEvent{Type: remote.SignedIn, Identity: id})
	case StepSignOutEvent:
		h.remote.SetIdentity(nil)
		h.remote.Emit(remote.AuthEvent{Type: remote.SignedOut})
	case StepSignOut:
		h.session.SignOut()
	case StepCompleteOnboarding:
		if err := h.session.CompleteOnboarding(); err != nil {
			return map[string]any{"error": errorCode(err)}, nil
		}

	case StepOpenLesson:
		return h.openLesson(step.Week)
	case StepSubmit:
		return h.submit(step)
	default:
		return h.lessonStep(step)
	}
	return nil, nil
}

// lessonStep runs the steps that need an open lesson.
func (h *Harness) lessonStep(step Step) (map[string]any, error) {
	if h.lesson == nil {
		return nil, errors.New("no lesson open")
	}
	switch step.Do {
	case StepLessonState:
		return lessonResult(h.lesson), nil
	case StepSelect:
		return map[string]any{"moved": h.lesson.Select(step.Section)}, nil
	case StepLessonAdvance:
		moved := h.lesson.Advance()
		return map[string]any{"moved": moved, "current": h.lesson.Current()}, nil
	case StepHydrate:
		n := h.lesson.HydrateRemote(context.Background(), h.remote, h.clock, h.user)
		return map[string]any{"added": n}, nil
	case StepSettle:
		h.pipeline.Wait()
	case StepTeardownLesson:
		h.lesson.Teardown()
	default:
		return nil, fmt.Errorf("unknown step %q", step.Do)
	}
	return nil, nil
}

func (h *Harness) openLesson(week int) (map[string]any, error) {
	inst, ok := h.catalog.Lesson(week)
	if !ok {
		return nil, fmt.Errorf("week %d is not in the catalog", week)
	}
	if h.lesson != nil {
		h.lesson.Teardown()
		h.pipeline.Wait()
	}

	h.user = h.userID()
	h.lesson = lesson.NewController(inst, lesson.StoreSource{Store: h.store, UserID: h.user},
		lesson.WithLogger(h.logger),
	)
	h.pipeline = activity.New(h.lesson, h.store, h.remote, h.session,
		activity.WithClock(h.clock),
		activity.WithLogger(h.logger),
	)
	return lessonResult(h.lesson), nil
}

type submitOutcome struct {
	res activity.Result
	err error
}

// submit runs the submission on its own goroutine so the clock can be
// advanced while it waits on the failsafe timer.
func (h *Harness) submit(step Step) (map[string]any, error) {
	if h.pipeline == nil {
		return nil, errors.New("no lesson open")
	}
	text := step.Text
	if text == "" {
		n := step.Length
		if n == 0 {
			n = activity.MinResponseLength
		}
		text = strings.Repeat("a", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	done := make(chan submitOutcome, 1)
	go func() {
		res, err := h.pipeline.Submit(context.Background(), step.Section, text)
		done <- submitOutcome{res: res, err: err}
		cancel()
	}()

	if step.MS > 0 {
		if err := h.clock.WaitTimer(ctx, failsafe.SubmissionTimeout); err == nil {
			h.clock.Advance(millis(step.MS))
		}
	}

	select {
	case out := <-done:
		if out.err != nil {
			return map[string]any{"error": errorCode(out.err)}, nil
		}
		return map[string]any{
			"status":     string(out.res.Status),
			"durability": string(out.res.Durability),
			"timed_out":  out.res.TimedOut,
		}, nil
	case <-time.After(stepTimeout):
		return nil, errors.New("submission did not complete")
	}
}

func (h *Harness) userID() string {
	if id := h.session.Identity(); id != nil {
		return id.UserID
	}
	if e := h.session.Enrollment(); e != nil {
		return e.UserID
	}
	return ""
}

func lessonResult(ctrl *lesson.Controller) map[string]any {
	states := ctrl.States()
	sections := ctrl.Lesson().Sections
	list := make([]string, len(sections))
	for i, sec := range sections {
		list[i] = string(states[sec.Index])
	}
	return map[string]any{
		"current":  ctrl.Current(),
		"finished": ctrl.Finished(),
		"states":   list,
	}
}

func errorCode(err error) string {
	var se *model.SyncError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return err.Error()
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// waitUntil polls cond until it holds or stepTimeout passes.
func waitUntil(cond func() bool) error {
	deadline := time.Now().Add(stepTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return errors.New("condition not met before step timeout")
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
