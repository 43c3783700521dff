package repository

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/example/face-login/internal/biometric"
)

// encodeEmbedding packs the vector as little-endian float32 values.
func encodeEmbedding(e biometric.Embedding) []byte {
	buf := make([]byte, 4*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) (biometric.Embedding, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	e := make(biometric.Embedding, len(buf)/4)
	for i := range e {
		e[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return e, nil
}
