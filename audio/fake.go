package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"intervox/encoder"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays PCM from memory as a microphone and records every clip
// handed to Play. Once the PCM runs out the capture keeps delivering
// silence, which is what lets the silence detector end a turn.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu        sync.Mutex
	denyErr   error
	playErr   error
	playDelay time.Duration
	plays     []Clip
	captures  int
}

// NewFakeContext loads a WAV file. Any RIFF layout DecodeWAV understands is
// accepted; the samples are replayed as 16-bit mono.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	p, err := encoder.Encode([][]byte{data}, encoder.Source{Codec: encoder.CodecWAV})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", wavPath, err)
	}
	return &FakeContext{pcm: p.Bytes[encoder.HeaderSize:], realtime: realtime}, nil
}

// NewFakeContextPCM replays raw s16le mono bytes.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "Fake Microphone"}}, nil
}

func (f *FakeContext) Close() {}

// Deny makes every subsequent capture fail to start with err.
func (f *FakeContext) Deny(err error) {
	f.mu.Lock()
	f.denyErr = err
	f.mu.Unlock()
}

func (f *FakeContext) SetPlayError(err error) {
	f.mu.Lock()
	f.playErr = err
	f.mu.Unlock()
}

// SetPlayDelay makes Play block for d instead of the clip duration.
func (f *FakeContext) SetPlayDelay(d time.Duration) {
	f.mu.Lock()
	f.playDelay = d
	f.mu.Unlock()
}

func (f *FakeContext) Plays() []Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Clip(nil), f.plays...)
}

// Captures counts NewCapture calls.
func (f *FakeContext) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *FakeContext) Play(ctx context.Context, clip Clip) error {
	f.mu.Lock()
	f.plays = append(f.plays, clip)
	err, delay := f.playErr, f.playDelay
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if delay == 0 && f.realtime {
		delay = clip.Duration()
	}
	if delay == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	f.captures++
	deny := f.denyErr
	f.mu.Unlock()
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, denyErr: deny, audioDone: make(chan struct{})}, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	denyErr   error
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once every byte of the source PCM has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.denyErr != nil {
		return f.denyErr
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]byte, chunkBytes)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				if cb := f.callback(); cb != nil {
					cb(silence, fakeFrameSize)
				}
			}
		}()
		return nil
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := len(f.pcm) == 0
		if audioFinished {
			close(f.audioDone)
		}

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {}
