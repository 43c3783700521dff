package biometric

import (
	"math"
	"slices"
)

// Validate checks that e has the expected dimension, only finite components
// and a non-zero norm.
func (e Embedding) Validate(dimension int) error {
	if len(e) == 0 {
		return NewValidationError("embedding", "must not be empty")
	}
	if len(e) != dimension {
		return NewValidationError("embedding", "dimension mismatch: expected %d, got %d", dimension, len(e))
	}
	var norm float64
	for i, v := range e {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return NewValidationError("embedding", "component %d is not finite", i)
		}
		norm += f * f
	}
	if norm == 0 {
		return NewValidationError("embedding", "must have non-zero norm")
	}
	return nil
}

// Clone returns a copy that does not share the backing array.
func (e Embedding) Clone() Embedding {
	return slices.Clone(e)
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Accumulation happens in float64 in index order so equal inputs always give
// equal scores. Zero vectors and length mismatches score 0.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// ValidateThreshold checks that a similarity threshold is within cosine range.
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
		return NewValidationError("threshold", "must be within [-1, 1], got %v", threshold)
	}
	return nil
}
