// Package audio provides the PCM16 and G.711 mu-law primitives used on the
// telephony leg of a call: companding, linear resampling, WAV framing and RMS
// level measurement.
//
// PCM16 buffers are signed 16-bit little-endian samples stored as []byte, the
// same layout Twilio and the speech provider exchange on the wire. Every
// function is pure and safe for concurrent use.
package audio

import "encoding/binary"

// G.711 mu-law constants.
const (
	mulawMax  = 0x1FFF
	mulawBias = 0x84
)

// MulawDecode expands mu-law bytes into PCM16, one sample per input byte.
func MulawDecode(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawToLinear(b)))
	}
	return pcm
}

// MulawEncode compresses PCM16 into mu-law, one output byte per sample.
// A trailing odd byte is ignored.
func MulawEncode(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = linearToMulaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func linearToMulaw(sample int16) byte {
	var sign int32
	magnitude := int32(sample)
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawMax {
		magnitude = mulawMax
	}
	magnitude += mulawBias

	exponent := int32(7)
	for mask := int32(0x4000); magnitude&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (magnitude >> (exponent + 3)) & 0x0F

	return byte(^(sign | exponent<<4 | mantissa))
}

func mulawToLinear(b byte) int16 {
	value := ^b
	sign := value & 0x80
	exponent := (value >> 4) & 0x07
	mantissa := int32(value & 0x0F)

	magnitude := ((mantissa << 3) + mulawBias) << exponent
	magnitude -= mulawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
