package testrunner

import (
	"errors"
	"fmt"
	"time"

	"github.com/imamik/lxc-compose/internal/config"
)

// TestFailure reports one failed test. ExitCode is -1 when the script could
// not be run at all, in which case Err says why.
type TestFailure struct {
	Container string
	Kind      config.TestKind
	Test      string
	ExitCode  int
	Err       error
}

func (e *TestFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s test %s/%s: %v", e.Kind, e.Container, e.Test, e.Err)
	}
	return fmt.Sprintf("%s test %s/%s exited with status %d", e.Kind, e.Container, e.Test, e.ExitCode)
}

func (e *TestFailure) Unwrap() error {
	return e.Err
}

// Result is the outcome of one test.
type Result struct {
	Container string
	Kind      config.TestKind
	Name      string
	Source    string
	Passed    bool
	Duration  time.Duration
	Err       *TestFailure
}

func passed(container string, kind config.TestKind, e config.TestEntry, d time.Duration) Result {
	return Result{Container: container, Kind: kind, Name: e.Name, Source: e.Source, Passed: true, Duration: d}
}

func failed(container string, kind config.TestKind, e config.TestEntry, code int, err error, d time.Duration) Result {
	return Result{
		Container: container,
		Kind:      kind,
		Name:      e.Name,
		Source:    e.Source,
		Duration:  d,
		Err:       &TestFailure{Container: container, Kind: kind, Test: e.Name, ExitCode: code, Err: err},
	}
}

// Summary aggregates the results of a run.
type Summary struct {
	Containers int
	Results    []Result
}

// Passed counts passing tests.
func (s *Summary) Passed() int {
	n := 0
	for _, r := range s.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// Failed counts failing tests.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Passed()
}

// Failures returns every failure in run order.
func (s *Summary) Failures() []*TestFailure {
	var out []*TestFailure
	for _, r := range s.Results {
		if !r.Passed {
			out = append(out, r.Err)
		}
	}
	return out
}

// Err joins every failure, or returns nil when all tests passed.
func (s *Summary) Err() error {
	failures := s.Failures()
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
