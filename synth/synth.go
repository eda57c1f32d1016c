// Package synth turns interview questions into speech.
package synth

import (
	"context"
	"errors"
	"fmt"

	"intervox/audio"
	"intervox/encoder"
	"intervox/internal/traced"
)

const (
	DefaultVoice = "alloy"
	DefaultModel = "tts-1"

	MinSpeed = 0.25
	MaxSpeed = 4.0
)

var (
	ErrEmptyText    = errors.New("text cannot be empty")
	ErrInvalidSpeed = errors.New("speed out of range")
)

type Request struct {
	Text  string
	Voice string
	// Speed is passed to the provider; 0 means 1.
	Speed float64
}

// Payload is synthesized audio ready for playback.
type Payload struct {
	Bytes      []byte
	Format     string
	SampleRate uint32
	Channels   uint16
	// Speed is the local playback multiplier still to be applied. Providers
	// that honour Request.Speed return 1 here.
	Speed   float64
	Metrics *traced.Metrics
}

// Clip decodes the payload for an audio.Player.
func (p *Payload) Clip() (audio.Clip, error) {
	if p.Format != "wav" {
		return audio.Clip{}, fmt.Errorf("cannot play %q audio", p.Format)
	}
	chans, f, err := encoder.DecodeWAV(p.Bytes)
	if err != nil {
		return audio.Clip{}, err
	}
	n := 0
	if len(chans) > 0 {
		n = len(chans[0])
	}
	samples := make([]int16, 0, n*len(chans))
	for i := 0; i < n; i++ {
		for _, ch := range chans {
			samples = append(samples, encoder.Quantize(ch[i]))
		}
	}
	return audio.Clip{Samples: samples, SampleRate: f.SampleRate, Channels: f.Channels, Speed: p.Speed}, nil
}

type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Payload, error)
}

func validate(provider string, req *Request) error {
	if req.Text == "" {
		return &SynthesisError{Provider: provider, Code: CodeInvalid, Message: "nothing to say", Cause: ErrEmptyText}
	}
	if req.Speed == 0 {
		req.Speed = 1
	}
	if req.Speed < MinSpeed || req.Speed > MaxSpeed {
		return &SynthesisError{
			Provider: provider,
			Code:     CodeInvalid,
			Message:  fmt.Sprintf("speed %.2f outside %.2f..%.2f", req.Speed, MinSpeed, MaxSpeed),
			Cause:    ErrInvalidSpeed,
		}
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}
	return nil
}
