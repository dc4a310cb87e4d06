package device

import (
	"encoding/binary"
	"math"
)

// bytesToFloat32 reinterprets little-endian float32 PCM bytes as samples.
// Trailing partial samples are ignored.
func bytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
