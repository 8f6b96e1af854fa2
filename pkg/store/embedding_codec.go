package store

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding packs a float32 vector as little-endian bytes for BLOB
// storage. A nil vector encodes to nil, preserving the "no semantic
// signal" distinction from a present-but-empty vector.
func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
