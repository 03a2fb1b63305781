package activity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/lesson"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
)

// MinResponseLength is the minimum trimmed response length in characters.
const MinResponseLength = 200

// IdentityResolver supplies the identity and enrollment a submission is
// written under. Implemented by *session.Session.
type IdentityResolver interface {
	// Identity returns the already resolved identity without blocking.
	Identity() *model.Identity
	// ResolveIdentity may ask the remote service.
	ResolveIdentity(ctx context.Context) (*model.Identity, error)
	Enrollment() *model.Enrollment
}

// Status is the terminal outcome of a submission.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Result describes a finished submission.
type Result struct {
	Status  Status
	Section int

	// Durability is the record's flag when the section completed.
	Durability model.Durability

	// TimedOut is true when the failsafe timer completed the section.
	TimedOut bool
}

// Pipeline submits activity responses for one lesson.
//
// Thread-safety: All methods are safe for concurrent use. A section can
// have at most one submission in flight.
type Pipeline struct {
	lesson     *lesson.Controller
	store      localstore.Store
	remote     remote.Service
	identities IdentityResolver
	clock      failsafe.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	drafts   map[int]string
	inflight map[int]bool

	detached failsafe.Tasks
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock driving the submission failsafe timer.
func WithClock(c failsafe.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a pipeline submitting into the given lesson.
func New(ctrl *lesson.Controller, store localstore.Store, svc remote.Service, identities IdentityResolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		lesson:     ctrl,
		store:      store,
		remote:     svc,
		identities: identities,
		clock:      failsafe.RealClock{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		drafts:     make(map[int]string),
		inflight:   make(map[int]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "activity", "week", ctrl.Lesson().WeekNumber)
	return p
}

// SetDraft stores the in-progress response text of a section.
func (p *Pipeline) SetDraft(section int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drafts[section] = text
}

// Draft returns the in-progress response text of a section.
func (p *Pipeline) Draft(section int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drafts[section]
}

// Submitting reports whether a submission for section is in flight.
func (p *Pipeline) Submitting(section int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[section]
}

// Wait blocks until every detached remote write has settled. Only
// teardown and tests call it.
func (p *Pipeline) Wait() {
	p.detached.Wait()
}

// Validate normalizes text and checks its length. Returns the text to
// store.
func Validate(text string) (string, error) {
	normalized := strings.TrimSpace(norm.NFC.String(text))
	if n := utf8.RuneCountInString(normalized); n < MinResponseLength {
		return "", model.NewValidationError(fmt.Sprintf("response must be at least %d characters, got %d", MinResponseLength, n))
	}
	return normalized, nil
}

// Submit submits text as the response of section.
//
// Rejections (validation, locked section, duplicate) return a
// *model.SyncError and have no side effects. An accepted submission returns
// once the section is completed in the lesson, which happens within
// failsafe.SubmissionTimeout of validation. Cancelling ctx or tearing down
// the lesson ends the wait early; the record keeps its pending flag until
// the detached remote write settles.
func (p *Pipeline) Submit(ctx context.Context, section int, text string) (Result, error) {
	rejected := Result{Status: StatusRejected, Section: section}
	if err := ctx.Err(); err != nil {
		return rejected, err
	}

	if !p.lesson.RequiresActivity(section) {
		return rejected, &model.SyncError{
			Code:    model.ErrCodeValidation,
			Op:      "submit",
			Message: fmt.Sprintf("section %d has no activity", section),
		}
	}
	if p.lesson.State(section) == model.SectionLocked {
		return rejected, &model.SyncError{
			Code:    model.ErrCodeSectionLocked,
			Op:      "submit",
			Message: fmt.Sprintf("section %d is locked", section),
		}
	}
	response, err := Validate(text)
	if err != nil {
		return rejected, err
	}

	p.mu.Lock()
	if p.inflight[section] || p.lesson.Submitted(section) {
		p.mu.Unlock()
		return rejected, duplicateError(section)
	}
	p.inflight[section] = true
	p.mu.Unlock()

	week := p.lesson.Lesson().WeekNumber
	keyUser := p.keyUser()
	rec := model.SectionCompletionRecord{
		WeekNumber:   week,
		SectionIndex: section,
		ResponseText: response,
		SubmittedAt:  p.clock.Now(),
		Durability:   model.DurabilityPending,
	}

	created, err := localstore.SaveCompletion(p.store, keyUser, rec)
	switch {
	case err != nil:
		p.logger.Warn("local commit failed; continuing", "section", section, "error", err)
	case !created:
		// another writer got there first; its record is the evidence
		p.lesson.MarkCompleted(section)
		p.release(section, false)
		return rejected, duplicateError(section)
	}

	raceCtx, stop := failsafe.Join(ctx, p.lesson.Context())
	defer stop()
	sendCtx := context.WithoutCancel(ctx)

	out := failsafe.Race(raceCtx, p.clock, failsafe.SubmissionTimeout, func(context.Context) (model.Durability, error) {
		return p.send(sendCtx, rec)
	})

	durability := model.DurabilityPending
	switch {
	case out.TimedOut:
		p.logger.Debug("submission completed by failsafe timer", "section", section, "error", model.NewTimeoutError("submit"))
		durability = model.DurabilityOrphanedLocal
	case out.Late != nil:
		p.logger.Debug("submission wait cancelled", "section", section, "error", out.Err)
	default:
		if out.Value != "" {
			durability = out.Value
		}
		if out.Err != nil {
			p.logger.Warn("remote write failed", "section", section, "error", out.Err)
		}
	}
	p.setDurability(keyUser, week, section, durability)

	if out.Late != nil {
		p.detached.Go(func() {
			p.settle(out.Late, keyUser, week, section)
		})
	}

	p.lesson.MarkCompleted(section)
	p.release(section, true)
	p.logger.Info("activity submitted", "section", section, "durability", durability)

	return Result{
		Status:     StatusAccepted,
		Section:    section,
		Durability: durability,
		TimedOut:   out.TimedOut,
	}, nil
}

// send runs the remote path: resolve the identity and write once. Returns
// the durability the record should move to.
func (p *Pipeline) send(ctx context.Context, rec model.SectionCompletionRecord) (model.Durability, error) {
	id, err := p.identities.ResolveIdentity(ctx)
	if err != nil {
		return model.DurabilityOrphanedLocal, model.NewRemoteError("submit.identity", err)
	}
	if id == nil {
		p.logger.Debug("no identity; skipping remote write", "section", rec.SectionIndex, "error", model.ErrAuthSessionMissing)
		return model.DurabilityOrphanedLocal, nil
	}

	ar := model.ActivityResponse{
		UserID:       id.UserID,
		WeekNumber:   rec.WeekNumber,
		SectionIndex: rec.SectionIndex,
		ResponseText: rec.ResponseText,
		SubmittedAt:  rec.SubmittedAt,
	}
	if e := p.identities.Enrollment(); e != nil && e.UserID == id.UserID && !e.LocalOnly {
		ar.EnrollmentID = e.ID
	}
	if err := p.remote.InsertActivityResponse(ctx, ar); err != nil {
		return model.DurabilityOrphanedLocal, model.NewRemoteError("submit.insert", err)
	}
	return model.DurabilityConfirmed, nil
}

// settle applies the late result of a remote write that lost the race.
// Its only effect is the durability flag; it never retries.
func (p *Pipeline) settle(late <-chan failsafe.Result[model.Durability], keyUser string, week, section int) {
	r := <-late
	if r.Err != nil {
		p.logger.Warn("late remote write failed; record stays local", "section", section, "error", r.Err)
	}
	p.setDurability(keyUser, week, section, r.Value)
}

func (p *Pipeline) setDurability(keyUser string, week, section int, next model.Durability) {
	if next == model.DurabilityPending {
		return
	}
	changed, err := localstore.UpdateDurability(p.store, keyUser, week, section, next)
	if err != nil {
		p.logger.Warn("durability update failed", "section", section, "error", err)
		return
	}
	if changed {
		p.logger.Debug("durability updated", "section", section, "durability", next)
	}
}

// keyUser is the user the local record is scoped to. It must not block.
func (p *Pipeline) keyUser() string {
	if id := p.identities.Identity(); id != nil {
		return id.UserID
	}
	if e := p.identities.Enrollment(); e != nil {
		return e.UserID
	}
	return ""
}

func (p *Pipeline) release(section int, clearDraft bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, section)
	if clearDraft {
		delete(p.drafts, section)
	}
}

func duplicateError(section int) error {
	return &model.SyncError{
		Code:    model.ErrCodeDuplicateSubmission,
		Op:      "submit",
		Message: fmt.Sprintf("section %d already submitted", section),
	}
}
