package memory

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// encodeVector packs a []float32 into a little-endian byte blob for
// storage, per spec's "embeddings as blobs or typed vectors" note.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks buf into a float32 vector. When expectedDim is
// positive and the decoded vector doesn't match it, the stored
// embedding predates a model/dimension change; this is logged and the
// row is treated as having no embedding rather than fed into cosine
// similarity at the wrong rank.
func decodeVector(buf []byte, expectedDim int) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	if expectedDim > 0 && len(out) != expectedDim {
		slog.Warn("long-term embedding dimension mismatch, ignoring stored vector",
			"expected_dimension", expectedDim, "actual_dimension", len(out))
		return nil
	}
	return out
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if
// either is empty or they differ in length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
