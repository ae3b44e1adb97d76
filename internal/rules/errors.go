package rules

import (
	"errors"
	"fmt"
)

// NoLimit is returned by a handler whose invocation should not count
// against the rule's rate limits. It is not reported as a failure.
var NoLimit = errors.New("rate limit ignored")

var (
	// ErrNotConfigured means a rule was executed without a handler.
	ErrNotConfigured = errors.New("rule has no handler")
	// ErrDuplicateRule means a plugin registered the same command twice.
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrUnknownPlugin means no rule of that plugin is registered.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrEmptyDescriptor means a descriptor declares no way to trigger.
	ErrEmptyDescriptor = errors.New("descriptor defines no rule")
)

// PatternError reports a plugin pattern that failed to compile.
type PatternError struct {
	Plugin  string
	Rule    string
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("plugin %s: rule %s: invalid pattern %q: %v", e.Plugin, e.Rule, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// IsPatternError reports whether err is or wraps a *PatternError.
func IsPatternError(err error) bool {
	var pe *PatternError
	return errors.As(err, &pe)
}
