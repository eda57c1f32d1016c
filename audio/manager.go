package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"intervox/encoder"
)

var ErrMicrophoneBusy = errors.New("microphone already in use")

// MediaPermissionError means the microphone could not be opened: the OS
// refused it, the device failed to start, or another recording holds it.
type MediaPermissionError struct {
	Err error
}

func (e *MediaPermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *MediaPermissionError) Unwrap() error { return e.Err }

// Manager is the only owner of the microphone. At most one Recording is live
// at a time.
type Manager struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig

	mu   sync.Mutex
	live *Recording
}

func NewManager(ctx Context, device *DeviceInfo, config CaptureConfig) *Manager {
	if config.SampleRate == 0 {
		config.SampleRate = encoder.SampleRate
	}
	if config.Channels == 0 {
		config.Channels = encoder.Channels
	}
	return &Manager{ctx: ctx, device: device, config: config}
}

// Held reports whether a recording currently owns the microphone.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live != nil
}

// Start opens the microphone and begins buffering chunks.
func (m *Manager) Start() (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live != nil {
		return nil, &MediaPermissionError{Err: ErrMicrophoneBusy}
	}

	dev, err := m.ctx.NewCapture(m.device, m.config)
	if err != nil {
		return nil, &MediaPermissionError{Err: err}
	}

	r := &Recording{
		mgr: m,
		dev: dev,
		buf: &CaptureBuffer{
			Codec:      encoder.CodecS16LE,
			SampleRate: m.config.SampleRate,
			Channels:   uint16(m.config.Channels),
			StartedAt:  time.Now(),
		},
		done: make(chan struct{}),
	}
	dev.SetCallback(r.onData)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, &MediaPermissionError{Err: err}
	}
	m.live = r
	return r, nil
}

func (m *Manager) clear(r *Recording) {
	m.mu.Lock()
	if m.live == r {
		m.live = nil
	}
	m.mu.Unlock()
}

// Recording is one live capture. Exactly one of Stop or Discard releases it;
// calling either again is harmless.
type Recording struct {
	mgr *Manager
	dev CaptureDevice

	mu       sync.Mutex
	buf      *CaptureBuffer
	sealed bool
	calls  sync.WaitGroup
	energy atomic.Uint64
	peak   atomic.Uint64

	stopOnce    sync.Once
	stopped     chan struct{}
	releaseOnce sync.Once
	done        chan struct{}
}

func (r *Recording) onData(data []byte, _ uint32) {
	r.calls.Add(1)
	defer r.calls.Done()

	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	level := RMS(chunk)
	bits := math.Float64bits(level)
	r.energy.Store(bits)
	for {
		old := r.peak.Load()
		if level <= math.Float64frombits(old) || r.peak.CompareAndSwap(old, bits) {
			break
		}
	}

	r.mu.Lock()
	if !r.sealed {
		r.buf.Chunks = append(r.buf.Chunks, chunk)
	}
	r.mu.Unlock()
}

// Energy is the RMS of the most recent chunk.
func (r *Recording) Energy() float64 {
	return math.Float64frombits(r.energy.Load())
}

// Peak is the loudest chunk RMS seen so far.
func (r *Recording) Peak() float64 {
	return math.Float64frombits(r.peak.Load())
}

// Done closes once the microphone has been released.
func (r *Recording) Done() <-chan struct{} { return r.done }

func (r *Recording) StartedAt() time.Time { return r.buf.StartedAt }

// haltDevice stops the driver once and returns a channel that closes when
// the driver confirms no more callbacks will start and the ones already
// running have returned.
func (r *Recording) haltDevice() <-chan struct{} {
	r.stopOnce.Do(func() {
		r.stopped = make(chan struct{})
		go func() {
			defer close(r.stopped)
			r.dev.Stop()
			r.dev.ClearCallback()
			r.calls.Wait()
		}()
	})
	return r.stopped
}

func (r *Recording) release() {
	r.releaseOnce.Do(func() {
		r.dev.Close()
		r.mgr.clear(r)
		close(r.done)
	})
}

// Stop ends the recording and returns the finalized buffer. The buffer holds
// every chunk delivered before the device confirmed it stopped; the
// microphone is released only after that. If ctx ends first the recording
// is still released in the background and ctx.Err() is returned.
func (r *Recording) Stop(ctx context.Context) (*CaptureBuffer, error) {
	halted := r.haltDevice()
	select {
	case <-halted:
	case <-ctx.Done():
		go func() {
			<-halted
			r.seal()
			r.release()
		}()
		return nil, ctx.Err()
	}

	buf := r.seal()
	r.release()
	if buf == nil {
		return nil, errors.New("recording already finalized")
	}
	return buf, nil
}

// seal returns the buffer the first time and nil afterwards.
func (r *Recording) seal() *CaptureBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil
	}
	r.sealed = true
	r.buf.StoppedAt = time.Now()
	buf := r.buf
	r.buf = &CaptureBuffer{}
	return buf
}

// Discard stops the device and drops whatever was captured.
func (r *Recording) Discard() {
	<-r.haltDevice()
	r.seal()
	r.release()
}
