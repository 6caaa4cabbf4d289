package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps every request that failed input checks.
	ErrValidation = errors.New("validation failed")
	// ErrQueuePublishFailed means the event never reached the queue; the caller may retry.
	ErrQueuePublishFailed = errors.New("queue publish failed")
	// ErrDependencyUnavailable means a backing service needed for admission was unreachable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrAnalyticsUnavailable means the store could not answer a query.
	ErrAnalyticsUnavailable = errors.New("analytics unavailable")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func unavailable(dependency string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, dependency, err)
}
