package vad

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame returns a 20ms 8kHz frame of constant amplitude; its RMS equals |level|.
func frame(level int16) []byte {
	buf := make([]byte, 320)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(level))
	}
	return buf
}

func TestClassifyThresholdIsInclusive(t *testing.T) {
	d := New(Config{Threshold: 500})

	assert.False(t, d.Classify(frame(499)))
	assert.True(t, d.Classify(frame(500)))
	assert.True(t, d.Classify(frame(-800)))
	assert.False(t, d.Classify(nil))
}

func TestNewAppliesDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), New(Config{}).Config())
}

func TestBargeInFiresOncePerRun(t *testing.T) {
	d := New(DefaultConfig())
	var c Counters

	var bargeIns []int
	for i := 1; i <= 25; i++ {
		if d.Observe(&c, frame(1000), 20).BargeIn {
			bargeIns = append(bargeIns, i)
		}
	}
	assert.Equal(t, []int{10}, bargeIns)

	require.False(t, d.Observe(&c, frame(0), 20).BargeIn)
	fired := false
	for i := 0; i < 10; i++ {
		fired = fired || d.Observe(&c, frame(1000), 20).BargeIn
	}
	assert.True(t, fired, "a new speech run can barge in again")
}

func TestChunkFlushOnLongSpeech(t *testing.T) {
	d := New(DefaultConfig())
	var c Counters

	flushes := 0
	for i := 0; i < 90; i++ {
		r := d.Observe(&c, frame(1000), 20)
		if r.FlushChunk {
			flushes++
		}
		assert.False(t, r.EndOfUtterance)
	}
	assert.Equal(t, 3, flushes)
	assert.Zero(t, c.PendingSpeechMs)
}

func TestEndOfUtteranceRequiresSpeech(t *testing.T) {
	d := New(DefaultConfig())
	var c Counters

	for i := 0; i < 60; i++ {
		require.False(t, d.Observe(&c, frame(0), 20).EndOfUtterance)
	}

	for i := 0; i < 5; i++ {
		d.Observe(&c, frame(1000), 20)
	}
	assert.Equal(t, 100, c.PendingSpeechMs)

	var ends []int
	for i := 1; i <= 60; i++ {
		if d.Observe(&c, frame(0), 20).EndOfUtterance {
			ends = append(ends, i)
		}
	}
	assert.Equal(t, []int{30}, ends, "boundary fires once when silence reaches 600ms")
	assert.Zero(t, c.PendingSpeechMs)
}

func TestSpeechThenSilenceScenario(t *testing.T) {
	d := New(DefaultConfig())
	var c Counters
	var got []Result

	for i := 0; i < 30; i++ {
		if r := d.Observe(&c, frame(2000), 20); r.BargeIn || r.FlushChunk || r.EndOfUtterance {
			got = append(got, r)
		}
	}
	for i := 0; i < 30; i++ {
		if r := d.Observe(&c, frame(10), 20); r.BargeIn || r.FlushChunk || r.EndOfUtterance {
			got = append(got, r)
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, "BARGE_IN", got[0].String())
	assert.Equal(t, "FLUSH_CHUNK", got[1].String())
	assert.Equal(t, "END_OF_UTTERANCE", got[2].String())
}

func TestCountersReset(t *testing.T) {
	d := New(DefaultConfig())
	c := Counters{}
	d.Observe(&c, frame(1000), 20)
	c.Reset()
	assert.Equal(t, Counters{}, c)
}
