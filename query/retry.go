package query

import "time"

// resolveRetry applies the cache.retry union's defaulting rule: an
// unconfigured retry falls back to 3 retries on the client, 0 on the
// server; `Disabled` (the `false` variant) always means zero retries;
// otherwise the definition's configured policy is used as-is.
func resolveRetry(def *QueryDefinition, isServer bool) RetryConfig {
	if !def.Cache.RetryConfigured {
		return defaultRetry(isServer)
	}
	if def.Cache.Retry.Disabled {
		return RetryConfig{Retries: 0}
	}
	return def.Cache.Retry
}

// attemptBackOff implements backoff.BackOff by delegating to an
// attempt-indexed delay function instead of a stateful exponential curve,
// so a definition's retryDelay(attempt) callback (or the 1000*2^attempt
// default) drives cenkalti/backoff/v5's retry loop directly.
type attemptBackOff struct {
	attempt int
	retry   RetryConfig
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	d := b.retry.delay(b.attempt)
	b.attempt++
	return d
}
