// Package biometric holds the enrollment and matching domain model: identities,
// their embedding templates and the result of matching a probe against them.
package biometric

import "time"

// MaxIdentityIDLength bounds identity ids to what the identities table stores.
const MaxIdentityIDLength = 128

// Embedding is a fixed-length face feature vector.
type Embedding []float32

// Identity is an enrolled person. Only its template list grows after creation.
type Identity struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
	// Seq orders identities by enrollment and breaks match ties.
	Seq uint64
}

// ValidateIdentityID rejects empty ids and ids longer than MaxIdentityIDLength bytes.
func ValidateIdentityID(id string) error {
	if id == "" {
		return NewValidationError("identity_id", "must not be empty")
	}
	if len(id) > MaxIdentityIDLength {
		return NewValidationError("identity_id", "must be at most %d bytes, got %d", MaxIdentityIDLength, len(id))
	}
	return nil
}

// Template is one stored embedding owned by exactly one identity.
type Template struct {
	ID         string
	IdentityID string
	Embedding  Embedding
	CapturedAt time.Time
}

// MatchResult is the outcome of comparing a probe against the store.
type MatchResult struct {
	ProbedAt time.Time
	Matched  bool
	// IdentityID is empty unless Matched is set.
	IdentityID string
	// BestIdentityID is the highest-scoring identity, reported even below threshold.
	BestIdentityID string
	Score          float64
	Threshold      float64
}

// Candidate is one identity ranked by its best template score.
type Candidate struct {
	IdentityID string
	Score      float64
}
