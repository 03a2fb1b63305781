package harness

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Scenario string `json:"scenario,omitempty"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// RunDir runs every *.yaml scenario in dir in lexical order.
// Scenario failures are collected, not returned as errors.
func RunDir(dir string, opts ...Option) (*SuiteResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(ScenarioFailure{Path: path, Error: err.Error()})
			continue
		}
		result, err := Run(scenario, opts...)
		if err != nil {
			suite.fail(ScenarioFailure{Scenario: scenario.Name, Path: path, Error: err.Error()})
			continue
		}
		if !result.Pass {
			suite.fail(ScenarioFailure{Scenario: scenario.Name, Path: path, Error: strings.Join(result.Errors, "; ")})
			continue
		}
		suite.Passed++
	}
	return suite, nil
}

func (s *SuiteResult) fail(f ScenarioFailure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
}
