package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a terminal job failure.
type Kind string

const (
	KindMissingCorrelation  Kind = "missing_correlation"
	KindMissingPrerequisite Kind = "missing_prerequisite"
	KindValidation          Kind = "validation"
	KindConfig              Kind = "config"
	KindPlatform            Kind = "platform"
	KindInternal            Kind = "internal"
)

// Failure is a terminal, user-visible job failure. Message is what gets
// persisted on the run row.
type Failure struct {
	Kind     Kind
	Message  string
	Cause    error
	Metadata json.RawMessage
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// WithMetadata attaches a diagnostic payload persisted with the failure.
func (f *Failure) WithMetadata(m json.RawMessage) *Failure {
	f.Metadata = m
	return f
}

func Failf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}

// AsFailure classifies any error. Errors that are not a *Failure become
// an internal failure carrying the raw message.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindInternal, Message: err.Error(), Cause: err}
}

// Verdict is the result of one validation step.
type Verdict struct {
	failure *Failure
}

func Pass() Verdict {
	return Verdict{}
}

func Reject(kind Kind, format string, args ...any) Verdict {
	return Verdict{failure: Failf(kind, format, args...)}
}

func RejectErr(f *Failure) Verdict {
	return Verdict{failure: f}
}

func (v Verdict) OK() bool {
	return v.failure == nil
}

func (v Verdict) Err() error {
	if v.failure == nil {
		return nil
	}
	return v.failure
}

// Check is one step of a validation chain.
type Check func(ctx context.Context) Verdict

// RunChecks evaluates checks in order and returns the first rejection.
func RunChecks(ctx context.Context, checks ...Check) error {
	for _, check := range checks {
		if v := check(ctx); !v.OK() {
			return v.Err()
		}
	}
	return nil
}
