package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts PCM16 between sample rates using linear interpolation.
// Equal rates return the input slice itself.
func Resample(pcm []byte, inRate, outRate int) []byte {
	if inRate == outRate {
		return pcm
	}

	inSamples := len(pcm) / 2
	if inSamples == 0 || inRate <= 0 || outRate <= 0 {
		return []byte{}
	}

	ratio := float64(inRate) / float64(outRate)
	outSamples := int(math.Floor(float64(inSamples) / ratio))
	if outSamples < 1 {
		outSamples = 1
	}
	out := make([]byte, outSamples*2)

	for i := 0; i < outSamples; i++ {
		src := float64(i) * ratio
		left := int(math.Floor(src))
		if left > inSamples-1 {
			left = inSamples - 1
		}
		right := left + 1
		if right > inSamples-1 {
			right = inSamples - 1
		}
		frac := src - float64(left)

		l := float64(int16(binary.LittleEndian.Uint16(pcm[left*2:])))
		r := float64(int16(binary.LittleEndian.Uint16(pcm[right*2:])))
		v := math.Floor(l + (r-l)*frac + 0.5)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clampSample(v))))
	}

	return out
}

func clampSample(v float64) float64 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}
