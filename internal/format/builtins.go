package format

import (
	"fmt"
	"regexp"
	"time"
)

var dateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func registerBuiltins(r *Registry) {
	r.Register("date", InputString,
		func(raw any) (any, error) {
			s, ok := raw.(string)
			if !ok || !dateRE.MatchString(s) {
				return nil, fmt.Errorf("format date: expected YYYY-MM-DD, got %v", raw)
			}
			t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("format date: %w", err)
			}
			return t, nil
		},
		func(value any) (any, error) {
			t, ok := value.(time.Time)
			if !ok {
				return nil, fmt.Errorf("format date: expected time.Time, got %T", value)
			}
			return t.UTC().Format("2006-01-02"), nil
		},
	)

	r.Register("date-time", InputString,
		func(raw any) (any, error) {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("format date-time: expected ISO 8601 string, got %v", raw)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("format date-time: %w", err)
			}
			return t, nil
		},
		func(value any) (any, error) {
			t, ok := value.(time.Time)
			if !ok {
				return nil, fmt.Errorf("format date-time: expected time.Time, got %T", value)
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		},
	)
}
