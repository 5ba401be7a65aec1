package blueprints

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmission is returned when the API does not accept a blueprint
	ErrSubmission = errors.New("blueprint submission failed")

	// ErrBuildFailed is returned when a blueprint build ends in the failed state
	ErrBuildFailed = errors.New("blueprint build failed")

	// ErrBuildTimeout is returned when a build does not finish within the deadline or poll budget
	ErrBuildTimeout = errors.New("blueprint build timed out")

	// ErrDockerfileTooLarge is returned when a composed Dockerfile exceeds the size limit
	ErrDockerfileTooLarge = errors.New("dockerfile exceeds size limit")
)

// SubmissionError wraps the API error returned by a create call
type SubmissionError struct {
	Name string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSubmission, e.Name, e.Err)
}

// Is matches ErrSubmission
func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// BuildFailedError carries the identity and last known state of a failed build
type BuildFailedError struct {
	ID            string
	Name          string
	Status        string
	FailureReason string
}

func (e *BuildFailedError) Error() string {
	msg := fmt.Sprintf("%s: %s (id %s, status %s)", ErrBuildFailed, e.Name, e.ID, e.Status)
	if e.FailureReason != "" {
		msg += ": " + e.FailureReason
	}
	return msg
}

func (e *BuildFailedError) Unwrap() error {
	return ErrBuildFailed
}
