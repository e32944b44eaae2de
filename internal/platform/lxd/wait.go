package lxd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/lxc-compose/internal/util/retry"
)

// ErrWaitTimeout is returned by WaitForState when the deadline passes.
var ErrWaitTimeout = errors.New("timed out waiting for container state")

// WaitForState polls rt until the container reports want, giving up when
// timeout elapses or the retry budget runs out. Extra retry options (such as a fake sleep) apply after the
// defaults.
func WaitForState(ctx context.Context, rt Runtime, name string, want State, timeout time.Duration, opts ...retry.Option) (*Container, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *Container
	op := func() error {
		ct, err := rt.Get(ctx, name)
		if err != nil {
			return err
		}
		last = ct
		if ct.Status != want {
			return fmt.Errorf("%s is %s, want %s", name, ct.Status, want)
		}
		return nil
	}

	defaults := []retry.Option{
		retry.WithMaxRetries(1 << 16),
		retry.WithInitialDelay(250 * time.Millisecond),
		retry.WithMaxDelay(2 * time.Second),
	}
	if err := retry.WithExponentialBackoff(ctx, op, append(defaults, opts...)...); err != nil {
		return last, fmt.Errorf("%w: %s after %v: %w", ErrWaitTimeout, name, timeout, err)
	}
	return last, nil
}
