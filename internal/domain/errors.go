package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSubmissionInFlight rejects navigation while a final commit is running.
	ErrSubmissionInFlight = errors.New("submission in flight")
	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotSelected rejects favoriting an action that is not selected.
	ErrNotSelected = errors.New("action is not selected")
)

// Placeholder labels used when a lookup misses.
const (
	UnknownAction   = "Unknown Action"
	UnknownCategory = "Unknown Category"
	UnknownMember   = "Unknown Member"
)

// ConstraintViolation rejects a selection change that would drop a mandatory
// category below its minimum.
type ConstraintViolation struct {
	CategoryID   string
	CategoryName string
	MinRequired  int
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("category %s requires at least %d selected actions", e.CategoryName, e.MinRequired)
}

// ValidationError names the rule that blocks a wizard step transition.
type ValidationError struct {
	Step    string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for step %s: %s", e.Step, e.Message)
}

// AssignmentConflict rejects assigning a member that already belongs to another team.
type AssignmentConflict struct {
	MemberID    string
	OwnerTeamID string
}

func (e *AssignmentConflict) Error() string {
	return fmt.Sprintf("member %s already assigned to team %s", e.MemberID, e.OwnerTeamID)
}

// RemoteSyncError wraps a failed call to a remote collaborator.
type RemoteSyncError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *RemoteSyncError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RemoteSyncError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown catalog, team or member id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsRetryable reports whether err is a RemoteSyncError flagged retryable.
func IsRetryable(err error) bool {
	var rs *RemoteSyncError
	return errors.As(err, &rs) && rs.Retryable
}

// Problems joins several validation messages into one sentence.
func Problems(items []string) string {
	return strings.Join(items, "; ")
}
