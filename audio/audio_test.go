package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intervox/encoder"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]byte, 64), 0},
		{"full scale", tonePCM(32, 32767), 32767.0 / 32768},
		{"half", tonePCM(32, 16384), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.data); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Built-in Microphone", false},
		{"Jabra Evolve 65", true},
		{"USB Audio (BT)", true},
	}
	for _, tt := range tests {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v", tt.name, got)
		}
	}
}

func TestClipRateAndDuration(t *testing.T) {
	c := Clip{Samples: make([]int16, 48000), SampleRate: 24000, Channels: 2}
	if c.Rate() != 24000 || c.Duration() != time.Second {
		t.Errorf("rate %d duration %v", c.Rate(), c.Duration())
	}
	c.Speed = 2
	if c.Rate() != 48000 || c.Duration() != 500*time.Millisecond {
		t.Errorf("at 2x: rate %d duration %v", c.Rate(), c.Duration())
	}
}

func TestFakePlayCancel(t *testing.T) {
	fc := NewFakeContextPCM(nil, false)
	fc.SetPlayDelay(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- fc.Play(ctx, Clip{Samples: []int16{1}, SampleRate: 16000, Channels: 1}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after cancel")
	}
	if len(fc.Plays()) != 1 {
		t.Errorf("plays = %d", len(fc.Plays()))
	}
}

func TestNewFakeContextFromWAV(t *testing.T) {
	p := encoder.WrapPCM16([]int16{1, -1, 2, -2}, encoder.SampleRate, 1)
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, p.Bytes, 0644); err != nil {
		t.Fatal(err)
	}
	fc, err := NewFakeContext(path, false)
	if err != nil {
		t.Fatalf("NewFakeContext: %v", err)
	}
	if len(fc.pcm) != 8 {
		t.Errorf("pcm = %d bytes, want 8", len(fc.pcm))
	}

	if _, err := NewFakeContext(filepath.Join(t.TempDir(), "missing.wav"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
