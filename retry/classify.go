package retry

import (
	"context"
	"errors"
	"strings"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassRetryable means another attempt may succeed.
	ClassRetryable Class = iota
	// ClassPermanent means the operation will fail again.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	default:
		return "retryable"
	}
}

// Classifier decides how an error is retried.
type Classifier func(err error) Class

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	cause error
}

func (e *PermanentError) Error() string { return e.cause.Error() }

func (e *PermanentError) Unwrap() error { return e.cause }

// RetryableError marks a failure that may be retried regardless of its text.
type RetryableError struct {
	cause error
}

func (e *RetryableError) Error() string { return e.cause.Error() }

func (e *RetryableError) Unwrap() error { return e.cause }

// Permanent wraps err so that it is never retried. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{cause: err}
}

// Retryable wraps err so that it is always retried. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{cause: err}
}

type rule struct {
	class   Class
	matches []string
}

var rules = []rule{
	{ClassRetryable, []string{"timeout", "econnreset", "econnrefused", "temporarily unavailable"}},
	{ClassPermanent, []string{"invalid", "corrupted", "unsupported", "not found", "permission denied"}},
}

// Classify returns the class of err.
func Classify(err error) Class {
	if err == nil {
		return ClassRetryable
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return ClassRetryable
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, m := range r.matches {
			if strings.Contains(msg, m) {
				return r.class
			}
		}
	}
	return ClassRetryable
}

// IsPermanent reports whether err classifies as ClassPermanent.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}
