package aws

import (
	"context"
	"log/slog"
	"time"

	"github.com/Uitware/heydeploy/pkg/parser"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a single provider call is repeated.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime of zero means the policy stops only on MaxRetries.
	MaxElapsedTime time.Duration
}

// RetryPolicyFromConfig reads the retry section of the deployment configuration.
func RetryPolicyFromConfig(config *parser.Config) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      config.Retry.MaxRetries,
		InitialInterval: config.Retry.InitialInterval,
		MaxInterval:     config.Retry.MaxInterval,
	}
}

func (policy RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exponential.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exponential.MaxInterval = policy.MaxInterval
	}
	exponential.MaxElapsedTime = policy.MaxElapsedTime

	var b backoff.BackOff = exponential
	if policy.MaxRetries > 0 || policy.MaxElapsedTime == 0 {
		b = backoff.WithMaxRetries(b, policy.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// retryOnError runs f until it succeeds, fails with an error that retrying cannot
// fix, or the policy runs out. Only throttling and transient server faults are retried.
func retryOnError(ctx context.Context, policy RetryPolicy, operation string, f func() error) error {
	return retryWhen(ctx, policy, operation, IsRetryable, f)
}

func retryWhen(ctx context.Context, policy RetryPolicy, operation string, retryable func(error) bool, f func() error) error {
	attempt := func() error {
		err := f()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("retrying AWS call", "operation", operation, "error", err, "wait", wait)
	}
	return backoff.RetryNotify(attempt, policy.backOff(ctx), notify)
}
