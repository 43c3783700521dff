package biometric

import "fmt"

// ValidationError reports malformed input such as an embedding of the wrong
// length. It is surfaced to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NoFaceDetectedError is returned when the extractor finds no face in an image.
type NoFaceDetectedError struct {
	// Index is the position of the offending image in a multi-image request.
	Index int
}

func (e *NoFaceDetectedError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("no face detected in image %d, retry the capture", e.Index+1)
	}
	return "no face detected, retry the capture"
}

// NotFoundError reports a lookup miss.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
