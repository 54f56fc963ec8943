// Package querylog is the ambient structured-logging facade: a thin
// go-logr/logr wrapper so query lifecycle warnings (cache-load failures,
// validator fallbacks, filtered collection items) and the validate.Warner
// contract share one sink, defaulting to go-logr/stdr when the caller
// injects nothing.
package querylog

import (
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Logger wraps a logr.Logger with the warn-centric surface the validator
// and query state machine call through (internal/validate.Warner,
// query.ClientConfig.Log).
type Logger struct {
	delegate logr.Logger
}

// New wraps an injected logr.Logger (e.g. zap's logr adapter).
func New(l logr.Logger) Logger { return Logger{delegate: l} }

// Default returns the stdlib-log-backed logger used when no logr.Logger is
// injected.
func Default() Logger { return Logger{delegate: stdr.New(nil)} }

// Warn implements internal/validate.Warner: a non-fatal condition the
// caller should be able to see, but that never fails the operation it
// occurred in (an optional-fallback trigger, a filtered array item, a
// purged corrupt cache entry).
func (l Logger) Warn(msg string, args ...any) {
	l.delegate.Info(msg, argsToKV(args)...)
}

// Error logs a fetch failure, a cache-load failure, or any other error the
// caller is demoting to a log line rather than propagating.
func (l Logger) Error(err error, msg string, args ...any) {
	l.delegate.Error(err, msg, argsToKV(args)...)
}

// argsToKV adapts the Warner/"%v..." style variadic args into logr's
// alternating key/value pairs, tagging them positionally when the caller
// passed bare values instead of key-value pairs.
func argsToKV(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	if len(args)%2 == 0 {
		paired := true
		for i := 0; i < len(args); i += 2 {
			if _, ok := args[i].(string); !ok {
				paired = false
				break
			}
		}
		if paired {
			return args
		}
	}
	kv := make([]any, 0, len(args)*2)
	for i, a := range args {
		kv = append(kv, "arg"+strconv.Itoa(i), a)
	}
	return kv
}
