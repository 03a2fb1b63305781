package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/progsync/internal/lesson"
	"github.com/roach88/progsync/internal/localstore"
	"github.com/roach88/progsync/internal/session"
	"github.com/roach88/progsync/internal/testutil"
)

// AssertionContext is the final state assertions inspect.
type AssertionContext struct {
	Session *session.Session
	Store   localstore.Store
	Remote  *testutil.FakeRemote

	// Lesson is the last lesson opened, nil if none.
	Lesson *lesson.Controller

	// UserID keys completion records of the open lesson.
	UserID string
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Step, event.Result)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertState:
		return compare(a.Type, a.Value, string(actx.Session.State()))
	case AssertSectionState, AssertDurability, AssertLessonFinished:
		return assertLesson(a, actx)
	case AssertCachedEnrollment:
		return assertCachedEnrollment(a, actx)
	case AssertRemoteCalls:
		return compare(a.Type, fmt.Sprint(a.Count), fmt.Sprint(actx.Remote.Calls(a.Method)))
	case AssertRemoteResponses:
		return compare(a.Type, fmt.Sprint(a.Count), fmt.Sprint(len(actx.Remote.Responses())))
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func compare(kind, expected, actual string) error {
	if expected == actual {
		return nil
	}
	return &AssertionError{Type: kind, Expected: expected, Actual: actual}
}

func assertLesson(a Assertion, actx *AssertionContext) error {
	ctrl := actx.Lesson
	if ctrl == nil {
		return &AssertionError{Type: a.Type, Expected: a.Value, Actual: "no lesson open"}
	}

	switch a.Type {
	case AssertSectionState:
		return compare(a.Type, a.Value, string(ctrl.State(a.Section)))
	case AssertLessonFinished:
		return compare(a.Type, a.Value, fmt.Sprint(ctrl.Finished()))
	}

	rec, err := localstore.LoadCompletion(actx.Store, actx.UserID, ctrl.Lesson().WeekNumber, a.Section)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: a.Value, Actual: err.Error()}
	}
	actual := "none"
	if rec != nil {
		actual = string(rec.Durability)
	}
	return compare(a.Type, a.Value, actual)
}

func assertCachedEnrollment(a Assertion, actx *AssertionContext) error {
	e, err := localstore.LoadEnrollment(actx.Store)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Expect), Actual: err.Error()}
	}
	if a.Value == "none" {
		if e == nil {
			return nil
		}
		return &AssertionError{Type: a.Type, Expected: "none", Actual: e.ID}
	}
	if e == nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Expect), Actual: "none"}
	}

	actual := map[string]any{
		"id":          e.ID,
		"user_id":     e.UserID,
		"program":     e.Program,
		"track_level": e.TrackLevel,
		"locale":      e.Locale,
		"local_only":  e.LocalOnly,
	}
	if !matchSubset(actual, a.Expect) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Expect), Actual: fmt.Sprint(actual)}
	}
	return nil
}

// assertTraceContains checks if the trace contains a step whose result
// matches expect (subset match).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Step == a.Step && matchSubset(event.Result, a.Expect) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("step %s with result %v", a.Step, a.Expect),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if steps appear in the specified order.
// Steps don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	// First position of each expected step, 1-indexed
	positions := make(map[string]int)
	for i, event := range trace {
		for _, want := range a.Steps {
			if event.Step == want && positions[want] == 0 {
				positions[want] = i + 1
			}
		}
	}

	for _, step := range a.Steps {
		if positions[step] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all steps present: %v", a.Steps),
				Actual:   fmt.Sprintf("missing step: %s", step),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Steps); i++ {
		prev, curr := a.Steps[i-1], a.Steps[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("steps in order: %v", a.Steps),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the step appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Step == a.Step {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d times", a.Step, a.Count),
			Actual:   fmt.Sprintf("appears %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// matchSubset reports whether every expected key is present in actual
// with the same printed value. YAML numbers and lists compare equal to
// their Go counterparts this way.
func matchSubset(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
