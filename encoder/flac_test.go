package encoder

import (
	"errors"
	"math"
	"testing"
)

func sineSamples(n int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = Quantize(0.6 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return out
}

func TestFlacEncoder(t *testing.T) {
	samples := sineSamples(3*BlockSize+123, 440)

	enc, err := NewFlac(SampleRate, Channels)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var totalFed uint64
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		block := samples[i:end]
		if err := enc.EncodeBlock(block); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
		totalFed += uint64(len(block))
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if enc.TotalFrames() != totalFed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), totalFed)
	}

	flacData := enc.Bytes()
	if len(flacData) < 4 || string(flacData[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac(SampleRate, Channels)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacEncoderRejectsOddStereoBlock(t *testing.T) {
	enc, err := NewFlac(SampleRate, 2)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.EncodeBlock(make([]int16, 3)); err == nil {
		t.Fatal("expected error for 3 samples on 2 channels")
	}
}

func TestNewFlacChannelLimit(t *testing.T) {
	if _, err := NewFlac(SampleRate, 3); err == nil {
		t.Fatal("expected error for 3 channels")
	}
}

// Chunks captured as FLAC decode to the same PCM that went in.
func TestEncodeFLACChunks(t *testing.T) {
	samples := sineSamples(2*BlockSize+77, 300)
	wav := WrapPCM16(samples, SampleRate, Channels)

	compressed, err := CompressFLAC(wav)
	if err != nil {
		t.Fatalf("CompressFLAC: %v", err)
	}

	third := len(compressed) / 3
	chunks := [][]byte{compressed[:third], compressed[third : 2*third], compressed[2*third:]}

	p, err := Encode(chunks, Source{Codec: CodecFLAC})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if p.Format.SampleRate != SampleRate || p.Format.Channels != Channels {
		t.Fatalf("format = %+v", p.Format)
	}
	got, err := PCM16(p)
	if err != nil {
		t.Fatalf("PCM16: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestEncodeFLACGarbage(t *testing.T) {
	_, err := Encode([][]byte{[]byte("not a flac stream at all")}, Source{Codec: CodecFLAC})
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("err = %v, want *EncodingError", err)
	}
}
