// Package audio holds the PCM voice timeline, the mixing graph that lays
// voice and music onto one track, and the audio clock derived from it.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleRate is the only rate the pipeline works at (mono, s16le).
const SampleRate = 24000

// DefaultSentenceGap is the silence inserted between sentences, in seconds.
const DefaultSentenceGap = 0.35

// VoiceTrack is the concatenated narration plus per-sentence durations.
type VoiceTrack struct {
	PCM       []byte
	Durations []float64
}

// Duration returns the track length in seconds
func (v *VoiceTrack) Duration() float64 {
	return BytesDuration(len(v.PCM))
}

// Samples returns the number of 16-bit samples in the track
func (v *VoiceTrack) Samples() int {
	return len(v.PCM) / 2
}

// BytesDuration converts a s16le byte length into seconds.
func BytesDuration(n int) float64 {
	return float64(n) / 2 / SampleRate
}

// SilenceSamples is the gap length in samples for a gap in seconds.
func SilenceSamples(gap float64) int {
	if gap <= 0 {
		return 0
	}
	return int(math.Round(gap * SampleRate))
}

// BuildVoiceTrack concatenates per-sentence PCM in order with gap seconds of
// silence between consecutive segments. A missing segment fails the build.
func BuildVoiceTrack(segments [][]byte, gap float64) (*VoiceTrack, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no voice segments")
	}

	silence := SilenceSamples(gap) * 2
	total := 0
	for i, seg := range segments {
		if seg == nil {
			return nil, fmt.Errorf("voice segment %d missing", i)
		}
		total += len(seg) &^ 1
	}
	total += (len(segments) - 1) * silence

	track := &VoiceTrack{
		PCM:       make([]byte, total),
		Durations: make([]float64, len(segments)),
	}

	offset := 0
	for i, seg := range segments {
		if i > 0 {
			offset += silence
		}
		n := len(seg) &^ 1
		copy(track.PCM[offset:], seg[:n])
		offset += n
		track.Durations[i] = BytesDuration(n)
	}

	return track, nil
}

// Int16s decodes little-endian s16 bytes into samples. A trailing odd byte
// is dropped.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian s16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts samples from one rate to another by linear
// interpolation. It also time-scales audio: playing at speed s is
// Resample(x, SampleRate*s, SampleRate).
func Resample(in []int16, fromRate, toRate float64) []int16 {
	if len(in) == 0 || fromRate <= 0 || toRate <= 0 {
		return nil
	}
	if fromRate == toRate {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	ratio := fromRate / toRate
	n := int(math.Floor(float64(len(in)) / ratio))
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		out[i] = clip16(a + (b-a)*frac)
	}
	return out
}

func clip16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
