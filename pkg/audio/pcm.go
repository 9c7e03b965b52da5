// Package audio holds the PCM helpers shared by the dictation audio path:
// format conversion to the 16 kHz mono stream recognizers expect, energy
// measurement for utterance segmentation, and WAV framing for batch
// transcription backends.
//
// All functions operate on 16-bit signed little-endian PCM.
package audio

import (
	"encoding/binary"
	"math"
)

// BitsPerSample is fixed for every PCM buffer in this package.
const BitsPerSample = 16

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is the format recognizers consume.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerMs returns the number of PCM bytes in one millisecond of f.
func (f Format) BytesPerMs() int {
	return f.SampleRate * f.Channels * (BitsPerSample / 8) / 1000
}

// Convert turns pcm in format src into mono at dst.SampleRate. Multi-channel
// input is averaged down to mono before resampling.
func Convert(pcm []byte, src Format, dstRate int) []byte {
	if src.Channels > 1 {
		pcm = DownmixMono(pcm, src.Channels)
	}
	return ResampleMono(pcm, src.SampleRate, dstRate)
}

// DownmixMono averages interleaved channels into one.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// ResampleMono resamples mono PCM from srcRate to dstRate with linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := len(pcm) / 2
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}
	out := make([]byte, dst*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < src {
			s1 = sampleAt(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// RMS returns the root-mean-square energy of pcm in sample units (0–32767).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DurationMs returns the duration of pcm in f, in milliseconds.
func DurationMs(pcm []byte, f Format) int {
	bpms := f.BytesPerMs()
	if bpms <= 0 {
		return 0
	}
	return len(pcm) / bpms
}

// Float32Mono converts pcm with the given channel count to mono float32
// samples in [-1, 1].
func Float32Mono(pcm []byte, channels int) []float32 {
	pcm = DownmixMono(pcm, channels)
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768.0
	}
	return out
}

// Int16sToBytes converts samples to little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
