package executor

import (
	"context"
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: timeouts, transport errors,
// rate limits. The supervisor retries these with backoff; exhausting the
// retry budget escalates to a non-transient failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable. A deadline exceeded on the
// invocation context counts: the stage timed out, not the run.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// SchemaError marks an executor output that does not conform to the stage's
// declared schema. One repair attempt is permitted when the executor supports
// it; otherwise the failure is non-transient.
type SchemaError struct {
	Stage string
	Err   error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("stage %q schema: %v", e.Stage, e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

// IsSchema reports whether err is a schema validation failure.
func IsSchema(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
