package encoder

import (
	"errors"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096

	// HeaderSize is the length of the canonical RIFF/WAVE header.
	HeaderSize = 44
)

// Encoder streams interleaved int16 blocks into a compressed container.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// Format describes canonical PCM: signed little-endian samples, interleaved.
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

func (f Format) blockAlign() int {
	return int(f.Channels) * int(f.BitsPerSample) / 8
}

func (f Format) byteRate() uint32 {
	return f.SampleRate * uint32(f.blockAlign())
}

// Payload is an encoded recording ready for transmission.
type Payload struct {
	Bytes  []byte
	Format Format
}

// Duration of the PCM data, derived from the header-less byte length.
func (p Payload) Duration() time.Duration {
	align := p.Format.blockAlign()
	if align == 0 || p.Format.SampleRate == 0 || len(p.Bytes) <= HeaderSize {
		return 0
	}
	frames := (len(p.Bytes) - HeaderSize) / align
	return time.Duration(frames) * time.Second / time.Duration(p.Format.SampleRate)
}

// Codec names the layout of capture chunks.
type Codec string

const (
	CodecS16LE Codec = "s16le"
	CodecF32LE Codec = "f32le"
	CodecWAV   Codec = "wav"
	CodecFLAC  Codec = "flac"
)

// Source describes how the chunks handed to Encode were produced. For the
// container codecs (wav, flac) SampleRate and Channels come from the stream
// itself and the fields here are ignored.
type Source struct {
	Codec      Codec
	SampleRate uint32
	Channels   uint16
}

var (
	ErrEmpty       = errors.New("no audio data")
	ErrUnsupported = errors.New("unsupported codec")
)

type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding: %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func encErr(op string, err error) error {
	return &EncodingError{Op: op, Err: err}
}
