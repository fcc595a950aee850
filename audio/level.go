package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square amplitude of PCM16 samples, or 0 for an
// empty buffer.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns the playback length in milliseconds of n mu-law bytes at
// the given sample rate.
func Duration(n, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return n * 1000 / sampleRate
}
