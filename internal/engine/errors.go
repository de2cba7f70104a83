package engine

import (
	"fmt"

	"queueline/internal/domain"
)

// NotFoundError reports a missing task, workbasket, classification, comment or access item.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidStateError reports an operation that is illegal in the task's current state.
type InvalidStateError struct {
	TaskID    string
	State     domain.TaskState
	Operation string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("task %s in state %s does not allow %s", e.TaskID, e.State, e.Operation)
}

// InvalidOwnerError reports an ownership violation, including a lost claim race.
type InvalidOwnerError struct {
	TaskID string
	Owner  string
	Caller string
}

func (e InvalidOwnerError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("task %s could not be claimed by %s", e.TaskID, e.Caller)
	}
	return fmt.Sprintf("task %s is owned by %s, not %s", e.TaskID, e.Owner, e.Caller)
}

// InvalidArgumentError reports malformed input.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e InvalidArgumentError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidWorkbasketError reports a workbasket missing a required attribute.
type InvalidWorkbasketError struct {
	Field  string
	Reason string
}

func (e InvalidWorkbasketError) Error() string {
	return fmt.Sprintf("invalid workbasket %s: %s", e.Field, e.Reason)
}

// DomainNotFoundError reports a domain absent from configuration.
type DomainNotFoundError struct {
	Domain string
}

func (e DomainNotFoundError) Error() string {
	return fmt.Sprintf("domain %s is not configured", e.Domain)
}

// AlreadyExistsError reports a uniqueness violation.
type AlreadyExistsError struct {
	Kind string
	Key  string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}

// ConcurrencyError reports a write based on a stale modified stamp.
type ConcurrencyError struct {
	Kind     string
	ID       string
	Expected string
	Actual   string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently (read %s, stored %s)", e.Kind, e.ID, e.Expected, e.Actual)
}

// InUseError reports a delete blocked by live references.
type InUseError struct {
	Kind       string
	ID         string
	References int
}

func (e InUseError) Error() string {
	return fmt.Sprintf("%s %s is still referenced %d times", e.Kind, e.ID, e.References)
}
