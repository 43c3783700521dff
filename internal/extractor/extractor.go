// Package extractor defines the feature-extraction boundary: an image goes
// in, the embedding of the first detected face comes out.
package extractor

import (
	"context"

	"github.com/example/face-login/internal/biometric"
)

// FaceBox is the bounding box of the detected face in image pixels.
type FaceBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is the extraction outcome for one image.
type Result struct {
	Embedding biometric.Embedding
	Box       *FaceBox
	// Faces is the number of faces detected; only the first is embedded.
	Faces int
}

// Client extracts a face embedding from an encoded image. Implementations
// return *biometric.NoFaceDetectedError when the image contains no face.
type Client interface {
	Extract(ctx context.Context, image []byte) (*Result, error)
}
