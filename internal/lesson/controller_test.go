package lesson

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
)

// threeSectionLesson has two activity sections followed by a reading.
func threeSectionLesson() model.LessonInstance {
	return model.LessonInstance{
		WeekNumber: 1,
		ProgramID:  model.DefaultProgram,
		Title:      "Getting started",
		Sections: []model.Section{
			{Index: 0, Title: "Welcome", RequiresActivity: true},
			{Index: 1, Title: "Reflection", RequiresActivity: true},
			{Index: 2, Title: "Wrap-up"},
		},
	}
}

// mixedLesson alternates readings and activities.
func mixedLesson() model.LessonInstance {
	return model.LessonInstance{
		WeekNumber: 2,
		ProgramID:  model.DefaultProgram,
		Sections: []model.Section{
			{Index: 0, Title: "Read"},
			{Index: 1, Title: "Write", RequiresActivity: true},
			{Index: 2, Title: "Read more"},
			{Index: 3, Title: "Write more", RequiresActivity: true},
		},
	}
}

type countingSink struct {
	mu    sync.Mutex
	weeks []int
}

func (s *countingSink) LessonFinished(week int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weeks = append(s.weeks, week)
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.weeks)
}

func states(c *Controller) []model.SectionState {
	m := c.States()
	out := make([]model.SectionState, len(m))
	for i, s := range m {
		out[i] = s
	}
	return out
}

func TestController_InitialStates(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)

	assert.Equal(t, []model.SectionState{
		model.SectionUnlocked,
		model.SectionLocked,
		model.SectionLocked,
	}, states(c))
	assert.Equal(t, 0, c.Current())
	assert.False(t, c.Finished())
}

func TestController_SequentialGating(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)

	require.True(t, c.MarkCompleted(0))
	require.True(t, c.Select(1))

	assert.False(t, c.Select(2), "section 2 is locked until section 1 is submitted")
	assert.Equal(t, 1, c.Current())

	require.True(t, c.MarkCompleted(1))
	assert.True(t, c.Select(2))
	assert.Equal(t, 2, c.Current())
}

func TestController_SelectOutOfRange(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)
	assert.False(t, c.Select(-1))
	assert.False(t, c.Select(3))
	assert.Equal(t, model.SectionLocked, c.State(7))
}

func TestController_AdvanceBlockedByActivity(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)

	assert.False(t, c.Advance())
	assert.Equal(t, 0, c.Current())
	assert.Equal(t, model.SectionUnlocked, c.State(0))

	c.MarkCompleted(0)
	assert.True(t, c.Advance())
	assert.Equal(t, 1, c.Current())
}

func TestController_AdvanceCompletesReading(t *testing.T) {
	c := NewController(mixedLesson(), nil)

	require.True(t, c.Advance())

	assert.Equal(t, model.SectionCompleted, c.State(0))
	assert.Equal(t, model.SectionUnlocked, c.State(1))
	assert.Equal(t, model.SectionLocked, c.State(2))
	assert.Equal(t, 1, c.Current())
}

func TestController_LaterCompletionImpliesEarlierReading(t *testing.T) {
	c := NewController(mixedLesson(), nil)

	c.Hydrate([]int{1})

	assert.Equal(t, []model.SectionState{
		model.SectionCompleted,
		model.SectionCompleted,
		model.SectionUnlocked,
		model.SectionLocked,
	}, states(c))
}

func TestController_ResumeKeepsLockState(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)

	c.Resume(2)
	assert.Equal(t, 2, c.Current())
	assert.Equal(t, model.SectionLocked, c.State(2))
	assert.Equal(t, model.SectionLocked, c.State(1))

	c.Resume(99)
	assert.Equal(t, 2, c.Current())
	c.Resume(-4)
	assert.Equal(t, 0, c.Current())
}

func TestController_MarkCompletedOnce(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)

	assert.True(t, c.MarkCompleted(0))
	assert.False(t, c.MarkCompleted(0))
	assert.False(t, c.MarkCompleted(9))
	assert.True(t, c.Submitted(0))
	assert.False(t, c.Submitted(1))
}

func TestController_FinishedSignalsOnce(t *testing.T) {
	sink := &countingSink{}
	c := NewController(threeSectionLesson(), nil, WithSink(sink))

	c.MarkCompleted(0)
	c.MarkCompleted(1)
	require.True(t, c.Select(2))
	assert.False(t, c.Finished())

	c.Advance()
	assert.True(t, c.Finished())
	c.Advance()
	c.Hydrate([]int{0, 1, 2})

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, []int{1}, sink.weeks)
}

func TestController_LastActivityFinishes(t *testing.T) {
	sink := &countingSink{}
	c := NewController(mixedLesson(), nil, WithSink(sink))

	c.Hydrate([]int{1})
	c.MarkCompleted(3)

	assert.True(t, c.Finished())
	assert.Equal(t, 1, sink.count())
}

func TestController_RestoredFinishedDoesNotSignal(t *testing.T) {
	store := localstore.NewMemoryStore()
	for i := range 4 {
		_, err := localstore.SaveCompletion(store, "u1", model.SectionCompletionRecord{
			WeekNumber:   2,
			SectionIndex: i,
			ResponseText: "text",
			SubmittedAt:  time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	sink := &countingSink{}

	c := NewController(mixedLesson(), StoreSource{Store: store, UserID: "u1"}, WithSink(sink))

	assert.True(t, c.Finished())
	c.MarkCompleted(3)
	assert.Equal(t, 0, sink.count())
}

func TestController_SeededFromStore(t *testing.T) {
	store := localstore.NewMemoryStore()
	_, err := localstore.SaveCompletion(store, "u1", model.SectionCompletionRecord{
		WeekNumber:   1,
		SectionIndex: 0,
		ResponseText: "text",
		SubmittedAt:  time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	// another user's record must not count
	_, err = localstore.SaveCompletion(store, "u2", model.SectionCompletionRecord{WeekNumber: 1, SectionIndex: 1})
	require.NoError(t, err)

	c := NewController(threeSectionLesson(), StoreSource{Store: store, UserID: "u1"})

	assert.Equal(t, []model.SectionState{
		model.SectionCompleted,
		model.SectionUnlocked,
		model.SectionLocked,
	}, states(c))
}

func TestController_CorruptRecordStillUnlocks(t *testing.T) {
	store := localstore.NewMemoryStore()
	require.NoError(t, store.Set(model.ActivityKey("u1", 1, 0), "{broken"))

	c := NewController(threeSectionLesson(), StoreSource{Store: store, UserID: "u1"})

	assert.Equal(t, model.SectionCompleted, c.State(0))
	assert.Equal(t, model.SectionUnlocked, c.State(1))
}

func TestController_Teardown(t *testing.T) {
	c := NewController(threeSectionLesson(), nil)
	c.Teardown()

	select {
	case <-c.Context().Done():
	default:
		t.Fatal("context not cancelled by teardown")
	}
	assert.False(t, c.MarkCompleted(0))
	assert.False(t, c.Select(0))
	assert.Equal(t, 0, c.Hydrate([]int{0}))
	assert.Equal(t, model.SectionUnlocked, c.State(0))
}

func TestController_EmptyLesson(t *testing.T) {
	c := NewController(model.LessonInstance{WeekNumber: 1}, nil)
	assert.False(t, c.Advance())
	c.Resume(3)
	assert.Equal(t, 0, c.Current())
	assert.False(t, c.Finished())
	assert.Empty(t, c.States())
}

func TestController_MonotonicUnlock(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for run := range 50 {
		c := NewController(mixedLesson(), nil)
		reachable := map[int]bool{0: true}

		for range 40 {
			switch rng.IntN(5) {
			case 0:
				c.MarkCompleted(rng.IntN(4))
			case 1:
				c.Hydrate([]int{rng.IntN(4)})
			case 2:
				c.Advance()
			case 3:
				c.Select(rng.IntN(4))
			case 4:
				c.Resume(rng.IntN(4))
			}

			now := c.States()
			for i := range reachable {
				require.True(t, now[i].Reachable(), "run %d: section %d regressed to %s", run, i, now[i])
			}
			for i, s := range now {
				if s.Reachable() {
					reachable[i] = true
				}
			}
		}
	}
}

func TestController_AdvanceLockedSectionIsNoop(t *testing.T) {
	sink := &countingSink{}
	c := NewController(threeSectionLesson(), nil, WithSink(sink))

	c.Resume(2)
	assert.False(t, c.Advance())

	assert.Equal(t, []model.SectionState{
		model.SectionUnlocked,
		model.SectionLocked,
		model.SectionLocked,
	}, states(c))
	assert.False(t, c.Finished())
	assert.Equal(t, 0, sink.count())
}

func TestController_ReadFlagsPersist(t *testing.T) {
	store := localstore.NewMemoryStore()
	src := StoreSource{Store: store, UserID: "u1"}

	c := NewController(mixedLesson(), src)
	require.True(t, c.Advance())
	c.Teardown()

	read, err := localstore.ListRead(store, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, read)

	restored := NewController(mixedLesson(), src)
	assert.Equal(t, model.SectionCompleted, restored.State(0))
	assert.Equal(t, model.SectionUnlocked, restored.State(1))

	other := NewController(mixedLesson(), StoreSource{Store: store, UserID: "u2"})
	assert.Equal(t, model.SectionUnlocked, other.State(0))
	assert.Equal(t, model.SectionLocked, other.State(1))
}

func TestController_ReadFlagOnActivitySectionIgnored(t *testing.T) {
	store := localstore.NewMemoryStore()
	_, err := localstore.MarkRead(store, "u1", 2, 1)
	require.NoError(t, err)

	c := NewController(mixedLesson(), StoreSource{Store: store, UserID: "u1"})

	assert.Equal(t, model.SectionUnlocked, c.State(0))
	assert.Equal(t, model.SectionLocked, c.State(1))
}
