package activity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/lesson"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/testutil"
)

var student = model.Identity{UserID: "student-1", Email: "s@example.com"}

// remoteIdentities resolves identity through the fake remote, as the
// session does when it has not resolved one yet.
type remoteIdentities struct {
	fr *testutil.FakeRemote

	mu         sync.Mutex
	known      *model.Identity
	enrollment *model.Enrollment
}

func (r *remoteIdentities) Identity() *model.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known
}

func (r *remoteIdentities) ResolveIdentity(ctx context.Context) (*model.Identity, error) {
	if id := r.Identity(); id != nil {
		return id, nil
	}
	return r.fr.GetSession(ctx)
}

func (r *remoteIdentities) Enrollment() *model.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enrollment
}

type fixture struct {
	store  localstore.Store
	remote *testutil.FakeRemote
	clock  *testutil.FakeClock
	ids    *remoteIdentities
	lesson *lesson.Controller
	p      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, localstore.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store localstore.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:  store,
		remote: testutil.NewFakeRemote(),
		clock:  testutil.NewFakeClock(),
	}
	f.remote.SetIdentity(&student)
	f.ids = &remoteIdentities{
		fr:    f.remote,
		known: &student,
		enrollment: &model.Enrollment{
			ID:     "enr-1",
			UserID: student.UserID,
		},
	}
	f.lesson = lesson.NewController(threeSectionLesson(), lesson.StoreSource{Store: store, UserID: student.UserID})
	f.p = New(f.lesson, store, f.remote, f.ids, WithClock(f.clock))
	t.Cleanup(func() {
		f.remote.Close()
		f.p.Wait()
	})
	return f
}

func threeSectionLesson() model.LessonInstance {
	return model.LessonInstance{
		WeekNumber: 1,
		ProgramID:  model.DefaultProgram,
		Sections: []model.Section{
			{Index: 0, Title: "Welcome", RequiresActivity: true},
			{Index: 1, Title: "Reflection", RequiresActivity: true},
			{Index: 2, Title: "Wrap-up"},
		},
	}
}

func response(n int) string {
	return strings.Repeat("a", n)
}

func (f *fixture) record(t *testing.T, section int) *model.SectionCompletionRecord {
	t.Helper()
	rec, err := localstore.LoadCompletion(f.store, student.UserID, 1, section)
	require.NoError(t, err)
	return rec
}

// submitAsync runs Submit in a goroutine.
func (f *fixture) submitAsync(section int, text string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		res, _ := f.p.Submit(context.Background(), section, text)
		ch <- res
	}()
	return ch
}

func TestValidate_Boundary(t *testing.T) {
	_, err := Validate(response(199))
	assert.True(t, model.IsValidation(err))

	text, err := Validate(response(200))
	require.NoError(t, err)
	assert.Len(t, text, 200)
}

func TestValidate_TrimsAndCountsCharacters(t *testing.T) {
	_, err := Validate("   \n" + response(199) + "\t  ")
	assert.True(t, model.IsValidation(err), "whitespace does not count")

	text, err := Validate(strings.Repeat("\u00e9", 200))
	require.NoError(t, err)
	assert.Equal(t, 200, len([]rune(text)))

	// decomposed e + combining acute composes to one character each
	_, err = Validate(strings.Repeat("e\u0301", 199))
	assert.True(t, model.IsValidation(err))
	text, err = Validate(strings.Repeat("e\u0301", 200))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("\u00e9", 200), text)
}

func TestSubmit_RejectsShortResponseWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.p.SetDraft(0, response(199))

	res, err := f.p.Submit(context.Background(), 0, response(199))

	assert.Equal(t, StatusRejected, res.Status)
	assert.True(t, model.IsValidation(err))
	assert.True(t, model.IsRejection(err))
	assert.Nil(t, f.record(t, 0))
	assert.Equal(t, model.SectionUnlocked, f.lesson.State(0))
	assert.Equal(t, response(199), f.p.Draft(0), "draft kept")
	assert.Equal(t, 0, f.remote.Calls(testutil.MethodInsertResponse))
	assert.Equal(t, 0, f.clock.Created())
}

func TestSubmit_Online(t *testing.T) {
	f := newFixture(t)
	f.p.SetDraft(0, "draft")

	res, err := f.p.Submit(context.Background(), 0, "  "+response(200)+"  ")

	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusAccepted, Section: 0, Durability: model.DurabilityConfirmed}, res)
	assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
	assert.Equal(t, model.SectionUnlocked, f.lesson.State(1))
	assert.True(t, f.lesson.Submitted(0))
	assert.Empty(t, f.p.Draft(0))
	assert.False(t, f.p.Submitting(0))
	assert.Equal(t, 0, f.clock.Pending(), "failsafe timer stopped")

	rec := f.record(t, 0)
	require.NotNil(t, rec)
	assert.Equal(t, model.DurabilityConfirmed, rec.Durability)
	assert.Equal(t, response(200), rec.ResponseText)
	assert.Equal(t, f.clock.Now(), rec.SubmittedAt)

	written := f.remote.Responses()
	require.Len(t, written, 1)
	assert.Equal(t, model.ActivityResponse{
		UserID:       student.UserID,
		EnrollmentID: "enr-1",
		WeekNumber:   1,
		SectionIndex: 0,
		ResponseText: response(200),
		SubmittedAt:  f.clock.Now(),
	}, written[0])
}

func TestSubmit_OfflineCompletesAtFailsafe(t *testing.T) {
	f := newFixture(t)
	f.remote.Hold()

	done := f.submitAsync(0, response(250))

	f.clock.BlockUntil(1)
	require.True(t, f.p.Submitting(0))
	rec := f.record(t, 0)
	require.NotNil(t, rec, "local commit happens before the timer")
	assert.Equal(t, model.DurabilityPending, rec.Durability)

	f.clock.Advance(4999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("completed before the failsafe deadline")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, model.SectionLocked, f.lesson.State(1))

	f.clock.Advance(time.Millisecond)
	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not complete at the failsafe deadline")
	}

	assert.Equal(t, StatusAccepted, res.Status)
	assert.True(t, res.TimedOut)
	assert.Equal(t, model.DurabilityOrphanedLocal, res.Durability)
	assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
	assert.Equal(t, model.SectionUnlocked, f.lesson.State(1))
	assert.False(t, f.p.Submitting(0))
	assert.Equal(t, model.DurabilityOrphanedLocal, f.record(t, 0).Durability)
}

func TestSubmit_LateAckConfirms(t *testing.T) {
	f := newFixture(t)
	f.remote.Hold(testutil.MethodInsertResponse)

	done := f.submitAsync(0, response(250))
	f.clock.BlockUntil(1)
	f.clock.Advance(5 * time.Second)
	res := <-done
	require.True(t, res.TimedOut)

	f.remote.Release(testutil.MethodInsertResponse)
	f.p.Wait()

	assert.Equal(t, model.DurabilityConfirmed, f.record(t, 0).Durability)
	assert.Len(t, f.remote.Responses(), 1)
}

func TestSubmit_LateFailureStaysOrphaned(t *testing.T) {
	f := newFixture(t)
	f.remote.Hold(testutil.MethodInsertResponse)
	f.remote.Fail(testutil.MethodInsertResponse, assert.AnError)

	done := f.submitAsync(0, response(250))
	f.clock.BlockUntil(1)
	f.clock.Advance(5 * time.Second)
	<-done

	f.remote.Release(testutil.MethodInsertResponse)
	f.p.Wait()

	assert.Equal(t, model.DurabilityOrphanedLocal, f.record(t, 0).Durability)
	assert.Equal(t, 1, f.remote.Calls(testutil.MethodInsertResponse), "never retried")
}

func TestSubmit_RemoteFailureBeforeTimer(t *testing.T) {
	f := newFixture(t)
	f.remote.Fail(testutil.MethodInsertResponse, assert.AnError)

	res, err := f.p.Submit(context.Background(), 0, response(200))

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.False(t, res.TimedOut)
	assert.Equal(t, model.DurabilityOrphanedLocal, res.Durability)
	assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
	assert.Equal(t, model.DurabilityOrphanedLocal, f.record(t, 0).Durability)
}

func TestSubmit_NoIdentitySkipsRemote(t *testing.T) {
	f := newFixture(t)
	f.remote.SetIdentity(nil)
	f.ids.mu.Lock()
	f.ids.known = nil
	f.ids.enrollment = nil
	f.ids.mu.Unlock()

	res, err := f.p.Submit(context.Background(), 0, response(200))

	require.NoError(t, err)
	assert.Equal(t, model.DurabilityOrphanedLocal, res.Durability)
	assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
	assert.Equal(t, 1, f.remote.Calls(testutil.MethodGetSession))
	assert.Equal(t, 0, f.remote.Calls(testutil.MethodInsertResponse))

	rec, err := localstore.LoadCompletion(f.store, "", 1, 0)
	require.NoError(t, err)
	require.NotNil(t, rec, "scoped to the anonymous user")
}

func TestSubmit_LocalOnlyEnrollmentOmitsID(t *testing.T) {
	f := newFixture(t)
	f.ids.mu.Lock()
	f.ids.enrollment = &model.Enrollment{ID: "local-1", UserID: student.UserID, LocalOnly: true}
	f.ids.mu.Unlock()

	_, err := f.p.Submit(context.Background(), 0, response(200))
	require.NoError(t, err)

	written := f.remote.Responses()
	require.Len(t, written, 1)
	assert.Empty(t, written[0].EnrollmentID)
}

func TestSubmit_LockedSection(t *testing.T) {
	f := newFixture(t)

	res, err := f.p.Submit(context.Background(), 1, response(300))

	assert.Equal(t, StatusRejected, res.Status)
	assert.True(t, model.IsCode(err, model.ErrCodeSectionLocked))
	assert.Nil(t, f.record(t, 1))
}

func TestSubmit_SectionWithoutActivity(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.Submit(context.Background(), 2, response(300))
	assert.True(t, model.IsValidation(err))

	_, err = f.p.Submit(context.Background(), 7, response(300))
	assert.True(t, model.IsValidation(err))
}

func TestSubmit_Duplicate(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Submit(context.Background(), 0, response(200))
	require.NoError(t, err)

	res, err := f.p.Submit(context.Background(), 0, response(220))

	assert.Equal(t, StatusRejected, res.Status)
	assert.True(t, model.IsCode(err, model.ErrCodeDuplicateSubmission))
	assert.Equal(t, response(200), f.record(t, 0).ResponseText, "record created once")
	assert.Len(t, f.remote.Responses(), 1)
}

func TestSubmit_DuplicateWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.remote.Hold(testutil.MethodInsertResponse)

	done := f.submitAsync(0, response(200))
	f.clock.BlockUntil(1)

	_, err := f.p.Submit(context.Background(), 0, response(200))
	assert.True(t, model.IsCode(err, model.ErrCodeDuplicateSubmission))

	f.remote.Release(testutil.MethodInsertResponse)
	res := <-done
	assert.Equal(t, model.DurabilityConfirmed, res.Durability)
}

func TestSubmit_ExistingRecordFromAnotherWriter(t *testing.T) {
	f := newFixture(t)
	// written after the controller was seeded
	_, err := localstore.SaveCompletion(f.store, student.UserID, model.SectionCompletionRecord{WeekNumber: 1, SectionIndex: 0, ResponseText: "other"})
	require.NoError(t, err)

	_, err = f.p.Submit(context.Background(), 0, response(200))

	assert.True(t, model.IsCode(err, model.ErrCodeDuplicateSubmission))
	assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
	assert.Equal(t, "other", f.record(t, 0).ResponseText)
	assert.Equal(t, 0, f.remote.Calls(testutil.MethodInsertResponse))
}

func TestSubmit_LocalStoreFailureStillCompletes(t *testing.T) {
	store := testutil.NewFaultyStore(localstore.NewMemoryStore())
	f := newFixtureWithStore(t, store)
	store.SetFaulty(true)

	res, err := f.p.Submit(context.Background(), 0, response(200))

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
	assert.Equal(t, model.SectionUnlocked, f.lesson.State(1))
	assert.Len(t, f.remote.Responses(), 1)
	assert.Nil(t, f.record(t, 0))
}

func TestSubmit_LessonTeardownStopsTimer(t *testing.T) {
	f := newFixture(t)
	f.remote.Hold(testutil.MethodInsertResponse)

	done := f.submitAsync(0, response(200))
	f.clock.BlockUntil(1)
	f.lesson.Teardown()

	res := <-done
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, model.DurabilityPending, res.Durability)
	assert.Equal(t, 0, f.clock.Pending())

	f.remote.Release(testutil.MethodInsertResponse)
	f.p.Wait()
	assert.Equal(t, model.DurabilityConfirmed, f.record(t, 0).Durability)
}

func TestSubmit_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.p.Submit(ctx, 0, response(200))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Nil(t, f.record(t, 0))
}

func TestSubmit_SequentialGating(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.lesson.Select(2))
	_, err := f.p.Submit(context.Background(), 0, response(200))
	require.NoError(t, err)
	require.True(t, f.lesson.Select(1))
	assert.False(t, f.lesson.Select(2))

	_, err = f.p.Submit(context.Background(), 1, response(200))
	require.NoError(t, err)
	assert.True(t, f.lesson.Select(2))
}

func TestSubmit_BoundedLatencyUnderFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fr *testutil.FakeRemote)
	}{
		{"hung network", func(fr *testutil.FakeRemote) { fr.Hold() }},
		{"hung insert", func(fr *testutil.FakeRemote) { fr.Hold(testutil.MethodInsertResponse) }},
		{"failing insert", func(fr *testutil.FakeRemote) { fr.Fail(testutil.MethodInsertResponse, assert.AnError) }},
		{"healthy", func(*testutil.FakeRemote) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.remote)
			start := f.clock.Now()

			done := f.submitAsync(0, response(200))
			f.clock.BlockUntilCreated(1)
			f.clock.Advance(5 * time.Second)

			select {
			case res := <-done:
				assert.Equal(t, StatusAccepted, res.Status)
			case <-time.After(2 * time.Second):
				t.Fatal("submission not terminal after the failsafe deadline")
			}
			assert.LessOrEqual(t, f.clock.Now().Sub(start), 5*time.Second)
			assert.Equal(t, model.SectionCompleted, f.lesson.State(0))
		})
	}
}
