// Package metrics provides instrumentation hooks for enrollment and recognition.
package metrics

import "time"

// Enrollment and recognition outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeNoFace    = "no_face"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Recorder captures metric events for the application.
type Recorder interface {
	IncEnrollment(outcome string)
	AddTemplatesStored(n int)
	IncRecognition(outcome string)
	ObserveMatchScore(score float64)
	ObserveExtractionDuration(d time.Duration)
}

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) IncEnrollment(string) {}
func (NoopRecorder) AddTemplatesStored(int) {}
func (NoopRecorder) IncRecognition(string) {}
func (NoopRecorder) ObserveMatchScore(float64) {}
func (NoopRecorder) ObserveExtractionDuration(time.Duration) {}
