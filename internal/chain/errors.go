package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a chain failure that is safe to retry: timeouts,
// rate limits, 5xx responses. Background tasks back off and retry these
// without advancing checkpoints or marking work done.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient chain error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (anywhere in its chain) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// retryableStatus reports whether an HTTP status from the chain API
// should be treated as transient.
func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
