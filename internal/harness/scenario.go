package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/testutil"
)

// Scenario defines an end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is the lesson catalog used by lesson steps, relative to the
	// scenario file.
	Catalog string `yaml:"catalog,omitempty"`

	// Setup seeds the local store and the fake remote before any step.
	Setup Setup `yaml:"setup"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup is the initial state of the world.
type Setup struct {
	// Identity is the remote's current session. Nil means signed out.
	Identity *IdentitySpec `yaml:"identity,omitempty"`

	// Cache is the enrollment already in the local store.
	Cache *EnrollmentSpec `yaml:"cache,omitempty"`

	// RemoteEnrollments are the enrollments the remote knows about.
	RemoteEnrollments []EnrollmentSpec `yaml:"remote_enrollments,omitempty"`

	// Completions are completion records already in the local store.
	Completions []CompletionSpec `yaml:"completions,omitempty"`

	// Onboarding enables the needs_onboarding state.
	Onboarding bool `yaml:"onboarding,omitempty"`
}

// IdentitySpec is a model.Identity in scenario form.
type IdentitySpec struct {
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email,omitempty"`
}

func (s *IdentitySpec) identity() *model.Identity {
	if s == nil {
		return nil
	}
	return &model.Identity{UserID: s.UserID, Email: s.Email}
}

// EnrollmentSpec is a model.Enrollment in scenario form. Empty program,
// level and locale take the defaults.
type EnrollmentSpec struct {
	ID         string `yaml:"id"`
	UserID     string `yaml:"user_id"`
	Program    string `yaml:"program,omitempty"`
	TrackLevel string `yaml:"track_level,omitempty"`
	Locale     string `yaml:"locale,omitempty"`
	LocalOnly  bool   `yaml:"local_only,omitempty"`
}

func (s EnrollmentSpec) enrollment() model.Enrollment {
	return model.Enrollment{
		ID:         s.ID,
		UserID:     s.UserID,
		Program:    s.Program,
		TrackLevel: s.TrackLevel,
		Locale:     s.Locale,
		LocalOnly:  s.LocalOnly,
	}.Normalize()
}

// CompletionSpec is a completion record already on disk.
type CompletionSpec struct {
	UserID     string `yaml:"user_id"`
	Week       int    `yaml:"week"`
	Section    int    `yaml:"section"`
	Durability string `yaml:"durability,omitempty"`
}

// Step is one action of the scenario. Only the fields its Do kind uses
// are read.
type Step struct {
	Do string `yaml:"do"`

	State    string        `yaml:"state,omitempty"`
	Method   string        `yaml:"method,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Count    int           `yaml:"count,omitempty"`
	MS       int           `yaml:"ms,omitempty"`
	Timer    int           `yaml:"timer,omitempty"`
	Week     int           `yaml:"week,omitempty"`
	Section  int           `yaml:"section,omitempty"`
	Length   int           `yaml:"length,omitempty"`
	Text     string        `yaml:"text,omitempty"`
	Identity *IdentitySpec `yaml:"identity,omitempty"`

	// Expect is a subset match against the step's result.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	StepInit               = "init"
	StepWaitState          = "wait_state"
	StepHold               = "hold"
	StepRelease            = "release"
	StepFail               = "fail"
	StepWaitCalls          = "wait_calls"
	StepAdvance            = "advance"
	StepSetIdentity        = "set_identity"
	StepSignIn             = "sign_in"
	StepSignOutEvent       = "sign_out_event"
	StepSignOut            = "sign_out"
	StepCompleteOnboarding = "complete_onboarding"
	StepOpenLesson         = "open_lesson"
	StepLessonState        = "lesson_state"
	StepSelect             = "select"
	StepLessonAdvance      = "lesson_advance"
	StepHydrate            = "hydrate"
	StepSubmit             = "submit"
	StepSettle             = "settle"
	StepTeardownLesson     = "teardown_lesson"
)

var stepKinds = []string{
	StepInit, StepWaitState, StepHold, StepRelease, StepFail, StepWaitCalls,
	StepAdvance, StepSetIdentity, StepSignIn, StepSignOutEvent, StepSignOut,
	StepCompleteOnboarding, StepOpenLesson, StepLessonState, StepSelect,
	StepLessonAdvance, StepHydrate, StepSubmit, StepSettle, StepTeardownLesson,
}

var remoteMethods = []string{
	testutil.MethodGetSession,
	testutil.MethodGetEnrollment,
	testutil.MethodCreateEnrollment,
	testutil.MethodInsertResponse,
	testutil.MethodListResponses,
}

// Assertion validates the final state or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	Value   string         `yaml:"value,omitempty"`
	Section int            `yaml:"section,omitempty"`
	Method  string         `yaml:"method,omitempty"`
	Step    string         `yaml:"step,omitempty"`
	Steps   []string       `yaml:"steps,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertState            = "state"
	AssertSectionState     = "section_state"
	AssertDurability       = "durability"
	AssertLessonFinished   = "lesson_finished"
	AssertCachedEnrollment = "cached_enrollment"
	AssertRemoteCalls      = "remote_calls"
	AssertRemoteResponses  = "remote_responses"
	AssertTraceContains    = "trace_contains"
	AssertTraceOrder       = "trace_order"
	AssertTraceCount       = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The catalog path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Catalog != "" {
		if _, err := os.Stat(s.Catalog); os.IsNotExist(err) {
			return fmt.Errorf("catalog file not found: %s", s.Catalog)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, s.Catalog != ""); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(i int, step Step, hasCatalog bool) error {
	if !slices.Contains(stepKinds, step.Do) {
		return fmt.Errorf("steps[%d]: unknown step %q", i, step.Do)
	}

	switch step.Do {
	case StepWaitState:
		if step.State == "" {
			return fmt.Errorf("steps[%d]: state is required for wait_state", i)
		}
	case StepHold, StepRelease:
		if step.Method != "" && !slices.Contains(remoteMethods, step.Method) {
			return fmt.Errorf("steps[%d]: unknown remote method %q", i, step.Method)
		}
	case StepFail, StepWaitCalls:
		if !slices.Contains(remoteMethods, step.Method) {
			return fmt.Errorf("steps[%d]: unknown remote method %q", i, step.Method)
		}
	case StepAdvance:
		if step.MS <= 0 {
			return fmt.Errorf("steps[%d]: ms must be positive for advance", i)
		}
	case StepSignIn:
		if step.Identity == nil || step.Identity.UserID == "" {
			return fmt.Errorf("steps[%d]: identity.user_id is required for sign_in", i)
		}
	case StepOpenLesson:
		if !hasCatalog {
			return fmt.Errorf("steps[%d]: open_lesson needs a catalog", i)
		}
		if step.Week < 1 {
			return fmt.Errorf("steps[%d]: week is required for open_lesson", i)
		}
	case StepSubmit:
		if step.Text != "" && step.Length != 0 {
			return fmt.Errorf("steps[%d]: text and length are mutually exclusive", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState, AssertSectionState, AssertDurability, AssertLessonFinished:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertCachedEnrollment:
		if a.Value == "" && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: value or expect is required for cached_enrollment", index)
		}
	case AssertRemoteCalls:
		if !slices.Contains(remoteMethods, a.Method) {
			return fmt.Errorf("assertions[%d]: unknown remote method %q", index, a.Method)
		}
	case AssertRemoteResponses:
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
