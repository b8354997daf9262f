package detector

import "encoding/binary"

// BytesToFloat32 converts little-endian signed 16-bit PCM bytes to
// normalized float32 samples in [-1, 1], the shape spec.md §6.2's
// detector interfaces expect (float_pcm_16k_mono).
func BytesToFloat32(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
