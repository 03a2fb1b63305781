package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/failsafe"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/testutil"
)

var alice = &model.Identity{UserID: "user-alice", Email: "alice@example.com"}

func validResponse() string {
	return strings.Repeat("a", 200)
}

func TestStatus_NoSession(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "status")
	require.NoError(t, res.err)
	assert.Equal(t, "state: no_session\n", res.out)
}

func TestStatus_CreatesThenReusesEnrollment(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "status")
	require.NoError(t, res.err)
	assert.Equal(t, "state: ready\nuser: user-alice <alice@example.com>\nenrollment: enr-remote-1 COLLEGE/beginner/en\n", res.out)

	res = env.run(t, "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "enrollment: enr-remote-1")
	assert.Equal(t, 1, env.remote.Calls(testutil.MethodCreateEnrollment))
}

func TestStatus_JSON(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "--format", "json", "status")
	require.NoError(t, res.err)

	var resp struct {
		Status string     `json:"status"`
		Data   statusView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, model.StateReady, resp.Data.State)
	require.NotNil(t, resp.Data.Enrollment)
	assert.Equal(t, "user-alice", resp.Data.Enrollment.UserID)
}

func TestLesson_Fresh(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "lesson", "1")
	require.NoError(t, res.err)
	assert.Equal(t, strings.Join([]string{
		"week 1  COLLEGE  Getting started",
		"> 0 unlocked  activity  Welcome",
		"  1 locked    activity  Reflection",
		"  2 locked    read      Wrap-up",
		"finished: false",
		"",
	}, "\n"), res.out)
}

func TestLesson_NoSession(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "lesson", "1")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.out, "Error [E101]")
}

func TestLesson_UnknownWeek(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "lesson", "9")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.out, "Error [E204]")
}

func TestLesson_MissingCatalog(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "--catalog", "nope.yaml", "lesson", "1")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.out, "Error [E003]")
}

func TestLesson_InvalidWeek(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "lesson", "first")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestSubmit_Online(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "submit", "1", "0", "--text", validResponse())
	require.NoError(t, res.err)
	assert.Equal(t, "week 1 section 0 accepted (confirmed)\n", res.out)

	responses := env.remote.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, "user-alice", responses[0].UserID)
	assert.Equal(t, "enr-remote-1", responses[0].EnrollmentID)

	res = env.run(t, "lesson", "1")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "> 0 completed submitted Welcome")
	assert.Contains(t, res.out, "  1 unlocked  activity  Reflection")
}

func TestSubmit_SequentialGatingAcrossRuns(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "submit", "1", "1", "--text", validResponse())
	require.Error(t, res.err)
	assert.Contains(t, res.out, "Error [E202]")

	require.NoError(t, env.run(t, "submit", "1", "0", "--text", validResponse()).err)
	res = env.run(t, "submit", "1", "1", "--text", validResponse())
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "section 1 accepted")
}

func TestSubmit_FinishesLesson(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	require.NoError(t, env.run(t, "submit", "1", "0", "--text", validResponse()).err)
	res := env.run(t, "--format", "json", "submit", "1", "1", "--text", validResponse())
	require.NoError(t, res.err)

	var resp struct {
		Data submitView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.out), &resp))
	assert.Equal(t, 1, resp.Data.Section)
	assert.Equal(t, model.DurabilityConfirmed, resp.Data.Durability)
	assert.False(t, resp.Data.TimedOut)
	assert.False(t, resp.Data.Finished, "trailing read section not yet advanced")
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"too short", []string{"submit", "1", "0", "--text", strings.Repeat("a", 199)}, "E201"},
		{"whitespace padded", []string{"submit", "1", "0", "--text", "  " + strings.Repeat("a", 199) + "\n"}, "E201"},
		{"locked", []string{"submit", "1", "1", "--text", validResponse()}, "E202"},
		{"no activity", []string{"submit", "1", "2", "--text", validResponse()}, "E201"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)
			env.remote.SetIdentity(alice)

			res := env.run(t, tt.args...)
			require.Error(t, res.err)
			assert.Equal(t, ExitFailure, GetExitCode(res.err))
			assert.Contains(t, res.out, "Error ["+tt.code+"]")
			assert.Empty(t, env.remote.Responses())
		})
	}
}

func TestSubmit_Duplicate(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	require.NoError(t, env.run(t, "submit", "1", "0", "--text", validResponse()).err)
	res := env.run(t, "submit", "1", "0", "--text", validResponse())
	require.Error(t, res.err)
	assert.Contains(t, res.out, "Error [E203]")
	assert.Len(t, env.remote.Responses(), 1)
}

func TestSubmit_FromStdinAndFile(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.runWithInput(t, validResponse(), "submit", "1", "0")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "section 0 accepted")

	path := filepath.Join(env.dir, "answer.txt")
	require.NoError(t, os.WriteFile(path, []byte(validResponse()), 0o644))
	res = env.run(t, "submit", "1", "1", "--file", path)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "section 1 accepted")
}

func TestSubmit_EmptyInput(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "submit", "1", "0")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestSignOut_ClearsCachedEnrollment(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)
	require.NoError(t, env.run(t, "submit", "1", "0", "--text", validResponse()).err)

	res := env.run(t, "signout")
	require.NoError(t, res.err)
	assert.Equal(t, "signed out\n", res.out)

	st, err := localstore.Open(env.db)
	require.NoError(t, err)
	defer st.Close()

	cached, err := localstore.LoadEnrollment(st)
	require.NoError(t, err)
	assert.Nil(t, cached)

	rec, err := localstore.LoadCompletion(st, "user-alice", 1, 0)
	require.NoError(t, err)
	assert.NotNil(t, rec, "completion records survive sign-out")
}

func TestOnboard(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)
	t.Setenv("PROGSYNC_ONBOARDING", "true")

	res := env.run(t, "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "state: needs_onboarding")

	res = env.run(t, "lesson", "1")
	require.Error(t, res.err)
	assert.Contains(t, res.out, "Error [E102]")

	res = env.run(t, "onboard")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "state: ready")

	res = env.run(t, "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "state: ready")
}

func TestOnboard_NoSession(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "onboard")
	require.Error(t, res.err)
	assert.Contains(t, res.out, "Error [E101]")
}

func TestSubmit_ReturnsWhenRemoteNeverAnswers(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)
	require.NoError(t, env.run(t, "status").err)

	env.remote.Hold(testutil.MethodGetSession, testutil.MethodInsertResponse)
	clock := testutil.NewFakeClock()
	env.clock = clock
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if clock.WaitTimer(ctx, failsafe.SubmissionTimeout) == nil {
			clock.Advance(failsafe.SubmissionTimeout)
		}
	}()

	done := make(chan cliResult, 1)
	go func() {
		done <- env.run(t, "submit", "1", "0", "--text", validResponse())
	}()

	var res cliResult
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("submit did not return after the failsafe timer fired")
	}
	require.NoError(t, res.err)
	assert.Equal(t, "week 1 section 0 accepted (orphaned_local)\n", res.out)
	assert.Empty(t, env.remote.Responses())

	st, err := localstore.Open(env.db)
	require.NoError(t, err)
	defer st.Close()
	rec, err := localstore.LoadCompletion(st, "user-alice", 1, 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.DurabilityOrphanedLocal, rec.Durability)
}

func TestAdvance_ReadingUnlocksNextSectionAcrossRuns(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "submit", "2", "1", "--text", validResponse())
	require.Error(t, res.err)
	assert.Contains(t, res.out, "Error [E202]")

	res = env.run(t, "advance", "2", "1")
	require.Error(t, res.err)
	assert.Contains(t, res.out, "Error [E202]")

	res = env.run(t, "advance", "2", "0")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "  0 completed read      Orientation")
	assert.Contains(t, res.out, "> 1 unlocked  activity  First entry")

	res = env.run(t, "lesson", "2")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "> 0 completed read      Orientation")
	assert.Contains(t, res.out, "  1 unlocked  activity  First entry")

	res = env.run(t, "submit", "2", "1", "--text", validResponse())
	require.NoError(t, res.err)
	assert.Equal(t, "week 2 section 1 accepted (confirmed)\nlesson finished\n", res.out)
}

func TestAdvance_ActivityNeedsSubmission(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)

	res := env.run(t, "advance", "1", "0")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.out, "needs its activity submitted first")

	require.NoError(t, env.run(t, "submit", "1", "0", "--text", validResponse()).err)
	res = env.run(t, "advance", "1", "0")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "> 1 unlocked  activity  Reflection")
}

func TestSignIn_AdoptsEnrollment(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.AddToken("tok-alice", *alice)

	res := env.run(t, "signin", "tok-alice")
	require.NoError(t, res.err)
	assert.Equal(t, "state: ready\nuser: user-alice <alice@example.com>\nenrollment: enr-remote-1 COLLEGE/beginner/en\n", res.out)
	assert.Equal(t, 1, env.remote.Calls(testutil.MethodCreateEnrollment))

	res = env.run(t, "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "enrollment: enr-remote-1")
}

func TestSignIn_Failures(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "signin")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))

	res = env.run(t, "signin", "tok-unknown")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.out, "Error [E101]")
}

func TestSignOut_EndsRemoteSession(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.SetIdentity(alice)
	require.NoError(t, env.run(t, "status").err)

	require.NoError(t, env.run(t, "signout").err)

	res := env.run(t, "status")
	require.NoError(t, res.err)
	assert.Equal(t, "state: no_session\n", res.out)
}
