package lesson

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/progsync/internal/model"
)

// CompletionSource lists the completion records of one week.
type CompletionSource interface {
	Completions(week int) ([]model.SectionCompletionRecord, error)
}

// ReadingSource is a CompletionSource that also remembers which
// activity-free sections were read, so reading progress survives the
// controller.
type ReadingSource interface {
	CompletionSource
	ReadSections(week int) ([]int, error)
	MarkRead(week, section int) error
}

// ProgressSink receives the lesson completion signal.
type ProgressSink interface {
	LessonFinished(week int, programID string)
}

// Controller is the progression state machine of one lesson instance.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
// The ProgressSink is called outside the lock.
type Controller struct {
	lesson model.LessonInstance
	src    CompletionSource
	sink   ProgressSink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	recorded map[int]bool // sections with a completion record
	advanced map[int]bool // activity-free sections the user advanced past
	current  int
	finished bool
	tornDown bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink sets the receiver of the lesson completion signal.
func WithSink(s ProgressSink) Option {
	return func(c *Controller) {
		c.sink = s
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a controller for lesson, seeded from the completion
// records in src. src may be nil. Unreadable records still count as
// completions. When src is a ReadingSource the read flags seed the
// activity-free sections and Advance persists new ones.
func NewController(lesson model.LessonInstance, src CompletionSource, opts ...Option) *Controller {
	c := &Controller{
		lesson:   lesson,
		src:      src,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorded: make(map[int]bool),
		advanced: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "lesson", "week", lesson.WeekNumber)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if src != nil {
		records, err := src.Completions(lesson.WeekNumber)
		if err != nil {
			c.logger.Warn("reading completion records", "error", err)
		}
		for _, r := range records {
			c.recorded[r.SectionIndex] = true
		}
	}
	if rs, ok := src.(ReadingSource); ok {
		read, err := rs.ReadSections(lesson.WeekNumber)
		if err != nil {
			c.logger.Warn("reading read flags", "error", err)
		}
		for _, i := range read {
			if i >= 0 && i < len(lesson.Sections) && !lesson.Sections[i].RequiresActivity {
				c.advanced[i] = true
			}
		}
	}
	// a lesson restored already complete does not signal again
	c.finished = c.finishedLocked()
	return c
}

// Lesson returns the lesson instance.
func (c *Controller) Lesson() model.LessonInstance {
	return c.lesson
}

// Context is cancelled by Teardown. Timers tied to the lesson use it.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// States returns the state of every section.
func (c *Controller) States() map[int]model.SectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := c.statesLocked()
	out := make(map[int]model.SectionState, len(states))
	for i, s := range states {
		out[i] = s
	}
	return out
}

// State returns the state of section i. Out-of-range sections are locked.
func (c *Controller) State(i int) model.SectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.lesson.Sections) {
		return model.SectionLocked
	}
	return c.statesLocked()[i]
}

// Current returns the index of the section being shown.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// RequiresActivity reports whether section i is gated on an activity.
func (c *Controller) RequiresActivity(i int) bool {
	if i < 0 || i >= len(c.lesson.Sections) {
		return false
	}
	return c.lesson.Sections[i].RequiresActivity
}

// Select moves to section i if it is reachable. Selecting a locked
// section is a no-op and returns false.
func (c *Controller) Select(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tornDown || i < 0 || i >= len(c.lesson.Sections) {
		return false
	}
	if !c.statesLocked()[i].Reachable() {
		c.logger.Debug("select ignored: section locked", "section", i)
		return false
	}
	c.current = i
	return true
}

// Resume jumps the current pointer to i without touching lock state.
// i is clamped to the lesson's sections.
func (c *Controller) Resume(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tornDown || len(c.lesson.Sections) == 0 {
		return
	}
	c.current = max(0, min(i, len(c.lesson.Sections)-1))
}

// Advance completes the current section if it has no activity and moves to
// the next one. A section with an activity must be submitted first, and a
// locked section cannot be advanced at all. Returns false when nothing
// changed.
func (c *Controller) Advance() bool {
	c.mu.Lock()
	if c.tornDown || len(c.lesson.Sections) == 0 {
		c.mu.Unlock()
		return false
	}

	changed := false
	cur := c.current
	sec := c.lesson.Sections[cur]
	if c.statesLocked()[cur] == model.SectionLocked {
		c.mu.Unlock()
		c.logger.Debug("advance blocked: section locked", "section", cur)
		return false
	}
	if sec.RequiresActivity && !c.recorded[cur] {
		c.mu.Unlock()
		c.logger.Debug("advance blocked: activity not submitted", "section", cur)
		return false
	}
	read := false
	if !sec.RequiresActivity && !c.advanced[cur] {
		c.advanced[cur] = true
		read = true
		changed = true
	}
	if cur+1 < len(c.lesson.Sections) {
		c.current = cur + 1
		changed = true
	}
	fire := c.checkFinishedLocked()
	c.mu.Unlock()

	if rs, ok := c.src.(ReadingSource); ok && read {
		if err := rs.MarkRead(c.lesson.WeekNumber, cur); err != nil {
			c.logger.Warn("persisting read flag failed", "section", cur, "error", err)
		}
	}
	fire()
	return changed
}

// MarkCompleted records completion evidence for section i.
// Returns false if it was already recorded or the lesson was torn down.
func (c *Controller) MarkCompleted(i int) bool {
	c.mu.Lock()
	if c.tornDown || i < 0 || i >= len(c.lesson.Sections) || c.recorded[i] {
		c.mu.Unlock()
		return false
	}
	c.recorded[i] = true
	fire := c.checkFinishedLocked()
	c.mu.Unlock()

	c.logger.Debug("section completed", "section", i)
	fire()
	return true
}

// Hydrate records completion evidence for every index. It never removes
// evidence. Returns how many sections were newly recorded.
func (c *Controller) Hydrate(indices []int) int {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return 0
	}
	added := 0
	for _, i := range indices {
		if i < 0 || i >= len(c.lesson.Sections) || c.recorded[i] {
			continue
		}
		c.recorded[i] = true
		added++
	}
	fire := c.checkFinishedLocked()
	c.mu.Unlock()

	fire()
	return added
}

// Submitted reports whether section i carries a completion record.
func (c *Controller) Submitted(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded[i]
}

// Finished reports whether the last section is completed.
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Teardown cancels Context and freezes the controller. Later mutations are
// ignored.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.tornDown = true
	c.mu.Unlock()
	c.cancel()
}

// statesLocked derives every section state from completion evidence.
func (c *Controller) statesLocked() []model.SectionState {
	n := len(c.lesson.Sections)
	done := make([]bool, n)
	later := false
	for i := n - 1; i >= 0; i-- {
		sec := c.lesson.Sections[i]
		switch {
		case c.recorded[i]:
			done[i] = true
		case !sec.RequiresActivity:
			// passing a section is the only way to reach a later one
			done[i] = c.advanced[i] || later
		}
		later = later || done[i]
	}

	states := make([]model.SectionState, n)
	for i := range n {
		switch {
		case done[i]:
			states[i] = model.SectionCompleted
		case i == 0 || states[i-1] == model.SectionCompleted:
			states[i] = model.SectionUnlocked
		default:
			states[i] = model.SectionLocked
		}
	}
	return states
}

func (c *Controller) finishedLocked() bool {
	n := len(c.lesson.Sections)
	return n > 0 && c.statesLocked()[n-1] == model.SectionCompleted
}

// checkFinishedLocked flips finished once and returns the signal to fire
// after unlocking.
func (c *Controller) checkFinishedLocked() func() {
	if c.finished || !c.finishedLocked() {
		return func() {}
	}
	c.finished = true
	sink, week, program := c.sink, c.lesson.WeekNumber, c.lesson.ProgramID
	c.logger.Info("lesson finished")
	return func() {
		if sink != nil {
			sink.LessonFinished(week, program)
		}
	}
}
