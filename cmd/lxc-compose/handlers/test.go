package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/lxc-compose/internal/compose"
	"github.com/imamik/lxc-compose/internal/config"
	"github.com/imamik/lxc-compose/internal/testrunner"
	"github.com/imamik/lxc-compose/internal/ui/tui"
)

// TestModeList prints the defined tests instead of running them.
const TestModeList = "list"

// ErrTestsFailed is returned when at least one test failed.
var ErrTestsFailed = errors.New("some tests failed")

// Test handles the test command. container may be empty to test every
// container of the compose file. mode is empty for all kinds, a single
// kind, or "list".
func Test(ctx context.Context, opts Options, container, mode string) error {
	var kinds []config.TestKind
	if mode != "" && mode != TestModeList {
		kind, err := config.ParseTestKind(mode)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	doc, err := loadDocument(opts)
	if err != nil {
		return err
	}

	return withApp(ctx, opts, readOnly, func(a *app) error {
		var merged []*compose.Merged
		if container != "" {
			m, err := composeOne(ctx, doc, a.library, container)
			if err != nil {
				return err
			}
			merged = append(merged, m)
		} else {
			merged, err = compose.All(ctx, doc, a.library)
			if err != nil {
				return err
			}
		}

		if mode == TestModeList {
			for _, m := range merged {
				fmt.Fprint(stdout, tui.RenderTestPlan(m.Name, testrunner.Plan(m)))
			}
			return nil
		}

		runner := testrunner.New(a.runtime, a.library, doc.Dir,
			testrunner.WithNetwork(a.network),
			testrunner.WithObserver(a.observer),
			testrunner.WithOutput(stdout, stderr),
			testrunner.WithTimeout(a.settings.Timeouts.Exec),
		)
		sum := runner.Run(ctx, merged, kinds...)
		fmt.Fprint(stdout, tui.RenderTestSummary(sum))
		if sum.Failed() > 0 {
			return fmt.Errorf("%w: %d of %d", ErrTestsFailed, sum.Failed(), len(sum.Results))
		}
		return nil
	})
}
