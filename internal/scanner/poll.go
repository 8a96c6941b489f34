package scanner

import (
	"context"
	"fmt"
	"time"
)

// Default readiness polling policy.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultMaxWait      = 60 * time.Second
)

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// poller repeats a check at a fixed interval until it reports done, fails,
// the accumulated wait exceeds maxWait, or ctx is cancelled.
type poller struct {
	interval time.Duration
	maxWait  time.Duration
	sleep    sleepFunc
}

func newPoller(interval, maxWait time.Duration, sleep sleepFunc) poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return poller{interval: interval, maxWait: maxWait, sleep: sleep}
}

// run returns the number of checks performed along with the outcome.
func (p poller) run(ctx context.Context, check func(ctx context.Context) (bool, error)) (int, error) {
	var (
		elapsed time.Duration
		checks  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return checks, err
		}
		checks++
		done, err := check(ctx)
		if err != nil {
			return checks, err
		}
		if done {
			return checks, nil
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return checks, err
		}
		elapsed += p.interval
		if elapsed > p.maxWait {
			return checks, fmt.Errorf("%w after %s", ErrTimedOut, elapsed)
		}
	}
}
