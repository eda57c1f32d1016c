package audio

import (
	"time"

	"intervox/encoder"
)

// CaptureBuffer is everything one recording produced, in arrival order.
type CaptureBuffer struct {
	Chunks     [][]byte
	Codec      encoder.Codec
	SampleRate uint32
	Channels   uint16
	StartedAt  time.Time
	StoppedAt  time.Time
}

func (b *CaptureBuffer) Len() int {
	n := 0
	for _, c := range b.Chunks {
		n += len(c)
	}
	return n
}

func (b *CaptureBuffer) Duration() time.Duration {
	return b.StoppedAt.Sub(b.StartedAt)
}

func (b *CaptureBuffer) Source() encoder.Source {
	return encoder.Source{Codec: b.Codec, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Encode converts the buffer to the canonical WAV payload.
func (b *CaptureBuffer) Encode() (encoder.Payload, error) {
	return encoder.Encode(b.Chunks, b.Source())
}
