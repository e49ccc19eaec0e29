package scheduler

import "time"

// instance tracks one live or historical execution of a JobSpec.
type instance struct {
	jobID     string
	status    Status
	attempt   int
	startedAt time.Time
	endedAt   time.Time
	err       error
	nextRetry time.Time
}

// failed transitions an instance into FAILED, then either
// RETRY_SCHEDULED (with the backoff delay applied) or leaves it FAILED
// for good once retry.MaxAttempts is exhausted.
func (in *instance) failed(err error, policy RetryPolicy, now time.Time) {
	in.status = StatusFailed
	in.err = err
	in.endedAt = now

	if in.attempt+1 >= policy.MaxAttempts {
		return
	}
	in.status = StatusRetryScheduled
	in.nextRetry = now.Add(policy.Delay(in.attempt))
	in.attempt++
}
