package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestScenarios_Golden(t *testing.T) {
	names := []string{
		"bootstrap_timeout",
		"cache_precedence",
		"offline_all_held",
		"offline_submission",
		"sequential_gating",
		"sign_in_event",
		"stale_cache_other_user",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			scenario := loadTestScenario(t, name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ExpectMismatchIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "expects the wrong state",
		Steps: []Step{
			{Do: StepInit},
			{Do: StepWaitState, State: "no_session", Expect: map[string]any{"state": "ready"}},
		},
		Assertions: []Assertion{{Type: AssertState, Value: "ready"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "steps[1] wait_state")
	assert.Contains(t, result.Errors[1], "assertions[0]")
}

func TestRun_LessonStepWithoutLesson(t *testing.T) {
	scenario := &Scenario{
		Name:        "no_lesson",
		Description: "advances a lesson that was never opened",
		Steps:       []Step{{Do: StepLessonAdvance}},
		Assertions:  []Assertion{{Type: AssertState, Value: "checking"}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no lesson open")
}

func TestRun_CompletionsUnlockSections(t *testing.T) {
	scenario := &Scenario{
		Name:        "seeded",
		Description: "completions already on disk unlock the next section",
		Catalog:     filepath.Join("testdata", "catalog.yaml"),
		Setup: Setup{
			Identity:    &IdentitySpec{UserID: "u1"},
			Cache:       &EnrollmentSpec{ID: "enr-1", UserID: "u1"},
			Completions: []CompletionSpec{{UserID: "u1", Week: 1, Section: 0, Durability: "orphaned_local"}},
		},
		Steps: []Step{
			{Do: StepInit},
			{Do: StepWaitState, State: "ready"},
			{Do: StepWaitCalls, Method: "GetActiveEnrollment", Count: 1},
			{Do: StepOpenLesson, Week: 1},
		},
		Assertions: []Assertion{
			{Type: AssertSectionState, Section: 0, Value: "completed"},
			{Type: AssertSectionState, Section: 1, Value: "unlocked"},
			{Type: AssertDurability, Section: 0, Value: "orphaned_local"},
			{Type: AssertDurability, Section: 1, Value: "none"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"completed", "unlocked", "locked"}, result.Trace[3].Result["states"])
}

func TestRun_OnboardingGate(t *testing.T) {
	scenario := &Scenario{
		Name:        "onboarding",
		Description: "a first-time user passes through needs_onboarding",
		Setup: Setup{
			Identity:   &IdentitySpec{UserID: "u1"},
			Cache:      &EnrollmentSpec{ID: "enr-1", UserID: "u1"},
			Onboarding: true,
		},
		Steps: []Step{
			{Do: StepInit},
			{Do: StepWaitState, State: "needs_onboarding"},
			{Do: StepCompleteOnboarding},
			{Do: StepWaitState, State: "ready"},
		},
		Assertions: []Assertion{{Type: AssertState, Value: "ready"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RemoteFailureYieldsLocalOnlyEnrollment(t *testing.T) {
	scenario := &Scenario{
		Name:        "local_only",
		Description: "a failing create falls back to a local-only enrollment",
		Setup:       Setup{Identity: &IdentitySpec{UserID: "u1"}},
		Steps: []Step{
			{Do: StepFail, Method: "CreateEnrollment", Error: "boom"},
			{Do: StepInit},
			{Do: StepWaitState, State: "ready"},
		},
		Assertions: []Assertion{
			{Type: AssertCachedEnrollment, Expect: map[string]any{"id": "local-1", "local_only": true}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
