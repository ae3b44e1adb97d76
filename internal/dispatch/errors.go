package dispatch

import (
	"errors"
	"fmt"
)

// HandlerError is a failure of one rule execution, panics included.
type HandlerError struct {
	Plugin string
	Rule   string
	Nick   string
	Line   string
	Panic  bool
	Err    error
}

func (e *HandlerError) Error() string {
	what := "error"
	if e.Panic {
		what = "panic"
	}
	return fmt.Sprintf("%s in %s.%s triggered by %s: %v", what, e.Plugin, e.Rule, e.Nick, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsHandlerError reports whether err is or wraps a *HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
