package biometric

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingValidate(t *testing.T) {
	tests := []struct {
		name    string
		emb     Embedding
		wantErr bool
	}{
		{name: "valid", emb: Embedding{1, 0, 0}},
		{name: "empty", emb: Embedding{}, wantErr: true},
		{name: "too short", emb: Embedding{1, 0}, wantErr: true},
		{name: "too long", emb: Embedding{1, 0, 0, 0}, wantErr: true},
		{name: "nan", emb: Embedding{float32(math.NaN()), 0, 0}, wantErr: true},
		{name: "inf", emb: Embedding{float32(math.Inf(1)), 0, 0}, wantErr: true},
		{name: "zero norm", emb: Embedding{0, 0, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.emb.Validate(3)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T", err)
			assert.Equal(t, "embedding", vErr.Field)
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity(Embedding{1, 0, 0}, Embedding{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(Embedding{1, 0, 0}, Embedding{0, 1, 0}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(Embedding{1, 0, 0}, Embedding{-2, 0, 0}), 1e-9)
	assert.InDelta(t, 1.0, CosineSimilarity(Embedding{3, 4, 0}, Embedding{6, 8, 0}), 1e-9)

	assert.Zero(t, CosineSimilarity(Embedding{1, 0}, Embedding{1, 0, 0}))
	assert.Zero(t, CosineSimilarity(Embedding{0, 0, 0}, Embedding{1, 0, 0}))
}

func TestCosineSimilarityIsDeterministic(t *testing.T) {
	a := Embedding{0.12, -0.7, 0.33, 0.91}
	b := Embedding{0.5, 0.1, -0.2, 0.8}
	first := CosineSimilarity(a, b)
	for i := 0; i < 100; i++ {
		if got := CosineSimilarity(a, b); got != first {
			t.Fatalf("iteration %d: got %v, want %v", i, got, first)
		}
	}
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(0.5))
	assert.NoError(t, ValidateThreshold(-1))
	assert.NoError(t, ValidateThreshold(1))
	assert.Error(t, ValidateThreshold(1.01))
	assert.Error(t, ValidateThreshold(math.NaN()))
}

func TestNoFaceDetectedErrorMessage(t *testing.T) {
	assert.Equal(t, "no face detected, retry the capture", (&NoFaceDetectedError{}).Error())
	assert.Equal(t, "no face detected in image 3, retry the capture", (&NoFaceDetectedError{Index: 2}).Error())
}

func TestValidateIdentityID(t *testing.T) {
	require.NoError(t, ValidateIdentityID("alice"))
	require.NoError(t, ValidateIdentityID(strings.Repeat("a", MaxIdentityIDLength)))

	for _, id := range []string{"", strings.Repeat("a", MaxIdentityIDLength+1)} {
		err := ValidateIdentityID(id)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "expected ValidationError for %d-byte id", len(id))
		assert.Equal(t, "identity_id", vErr.Field)
	}
}
