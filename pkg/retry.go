package veil

import (
	"context"
	"time"
)

const retrySleep = 500 * time.Millisecond

// RetryProbe is consulted after a transient server failure to decide
// whether the action already took effect remotely. done=true means
// the outcome is known and retrying must stop, with err carrying a
// definitive failure if any. done=false retries; its err, if set,
// only describes why the probe itself was inconclusive.
type RetryProbe func(ctx context.Context) (done bool, err error)

// WithRetryOnServerError runs action up to maxTries times, sleeping
// between attempts. Only server-side failures are retried; any other
// error returns immediately. Before each retry the probe (if any) is
// consulted, because the failed attempt may have succeeded remotely.
// A logged-out session stops the loop.
func WithRetryOnServerError(ctx context.Context, session *Session, maxTries int, action func(ctx context.Context) error, probe RetryProbe) error {
	var last error
	for i := 0; i < maxTries; i++ {
		if err := session.RequireLogin(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := action(ctx)
		if err == nil {
			return nil
		}
		if !IsServerError(err) {
			return err
		}
		last = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retrySleep):
		}
		if probe != nil {
			done, perr := probe(ctx)
			if done {
				return perr
			}
		}
	}
	return last
}
