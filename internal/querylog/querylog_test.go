package querylog

import (
	"errors"
	"testing"
)

func TestDefault_WarnAndErrorDoNotPanic(t *testing.T) {
	l := Default()
	l.Warn("dropped invalid array item", "path", "user.tags[2]")
	l.Error(errors.New("boom"), "cache load failed", "key", uint32(42))
}
