package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV parsing errors.
var (
	// ErrInvalidWAV means the buffer is not a RIFF/WAVE container or lacks
	// the fmt or data chunk.
	ErrInvalidWAV = errors.New("invalid WAV data")

	// ErrUnsupportedWAV means the container holds something other than
	// 16-bit mono PCM.
	ErrUnsupportedWAV = errors.New("unsupported WAV format")
)

const wavHeaderSize = 44

// WAV is decoded PCM16 audio and its sample rate.
type WAV struct {
	PCM        []byte
	SampleRate int
}

// WrapWAV frames PCM16 in a minimal 44-byte RIFF/WAVE header.
func WrapWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1)
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(byteRate))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], pcm)

	return buf
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// UnwrapWAV extracts mono 16-bit PCM from a RIFF/WAVE container.
func UnwrapWAV(data []byte) (*WAV, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE form type", ErrInvalidWAV)
	}

	le := binary.LittleEndian
	var (
		format *wavFormat
		pcm    []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(le.Uint32(data[offset+4 : offset+8]))
		start := offset + 8
		end := start + size
		if end > len(data) || end < start {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-start < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			chunk := data[start:end]
			format = &wavFormat{
				audioFormat:   le.Uint16(chunk[0:2]),
				channels:      le.Uint16(chunk[2:4]),
				sampleRate:    le.Uint32(chunk[4:8]),
				bitsPerSample: le.Uint16(chunk[14:16]),
			}
		case "data":
			pcm = data[start:end]
		}

		offset = end
		if size%2 == 1 {
			offset++
		}
	}

	if format == nil || pcm == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidWAV)
	}
	if format.audioFormat != 1 || format.bitsPerSample != 16 {
		return nil, fmt.Errorf("%w: format %d with %d bits per sample",
			ErrUnsupportedWAV, format.audioFormat, format.bitsPerSample)
	}
	if format.channels != 1 {
		return nil, fmt.Errorf("%w: only mono is supported, got %d channels",
			ErrUnsupportedWAV, format.channels)
	}

	return &WAV{PCM: pcm, SampleRate: int(format.sampleRate)}, nil
}
