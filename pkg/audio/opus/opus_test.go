package opus

import (
	"math"
	"testing"

	"layeh.com/gopus"
)

// encodeTone returns one 20 ms Opus packet holding a 440 Hz tone.
func encodeTone(t *testing.T, channels int) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	const frame = SampleRate / 50
	pcm := make([]int16, frame*channels)
	for i := range frame {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		for c := range channels {
			pcm[i*channels+c] = v
		}
	}
	packet, err := enc.Encode(pcm, frame, 4000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return packet
}

func TestDecoder_DecodesTo16kMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		channels int
	}{
		{"mono", 1},
		{"stereo", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dec, err := NewDecoder(tt.channels, 16000)
			if err != nil {
				t.Fatalf("NewDecoder: %v", err)
			}
			pcm, err := dec.Decode(encodeTone(t, tt.channels))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			// 20 ms at 16 kHz mono, 2 bytes per sample.
			if len(pcm) != 640 {
				t.Errorf("len(pcm) = %d, want 640", len(pcm))
			}
		})
	}
}

func TestNewDecoder_RejectsChannelCount(t *testing.T) {
	t.Parallel()

	for _, ch := range []int{0, 3, 6} {
		if _, err := NewDecoder(ch, 16000); err == nil {
			t.Errorf("NewDecoder(%d) succeeded", ch)
		}
	}
}
