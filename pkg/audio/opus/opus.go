// Package opus decodes Opus packets from browser and mobile clients into
// the 16 kHz mono PCM stream recognizers consume.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/formvox/pkg/audio"
)

const (
	// SampleRate is the decoder output rate. Opus always decodes at 48 kHz
	// here and is resampled afterwards.
	SampleRate = 48000

	// maxFrameSize is the largest Opus frame (120 ms) in samples per channel.
	maxFrameSize = SampleRate * 120 / 1000
)

// Decoder holds Opus decoder state for one client stream. Not safe for
// concurrent use.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
	dstRate  int
}

// NewDecoder returns a decoder for packets with the given channel count that
// emits mono PCM at dstRate.
func NewDecoder(channels, dstRate int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels, dstRate: dstRate}, nil
}

// Decode decodes one packet into mono PCM at the decoder's output rate.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	samples, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	pcm := audio.Int16sToBytes(samples)
	return audio.Convert(pcm, audio.Format{SampleRate: SampleRate, Channels: d.channels}, d.dstRate), nil
}
