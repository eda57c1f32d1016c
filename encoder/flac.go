package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder compresses interleaved 16-bit blocks. Used to archive
// recordings next to the interview results.
type FlacEncoder struct {
	buf         bytes.Buffer
	enc         *flac.Encoder
	sampleRate  uint32
	channels    int
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewFlac(sampleRate uint32, channels uint16) (*FlacEncoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("flac: %d channels not supported", channels)
	}
	e := &FlacEncoder{sampleRate: sampleRate, channels: int(channels)}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    sampleRate,
		NChannels:     uint8(channels),
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

// EncodeBlock writes one frame. block holds interleaved samples and must not
// exceed BlockSize frames.
func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(block)%e.channels != 0 {
		return fmt.Errorf("flac: block of %d samples is not a multiple of %d channels", len(block), e.channels)
	}
	n := len(block) / e.channels
	if n == 0 {
		return nil
	}

	subframes := make([]*frame.Subframe, e.channels)
	for c := range subframes {
		samples := make([]int32, n)
		for i := 0; i < n; i++ {
			samples[i] = int32(block[i*e.channels+c])
		}
		subframes[c] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  n,
		}
	}

	layout := frame.ChannelsMono
	if e.channels == 2 {
		layout = frame.ChannelsLR
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(n),
			SampleRate:    e.sampleRate,
			Channels:      layout,
			BitsPerSample: BitsPerSample,
		},
		Subframes: subframes,
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(n)
	return nil
}

func (e *FlacEncoder) Close() error {
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}

// CompressFLAC re-encodes a canonical payload as FLAC.
func CompressFLAC(p Payload) ([]byte, error) {
	samples, err := PCM16(p)
	if err != nil {
		return nil, err
	}
	enc, err := NewFlac(p.Format.SampleRate, p.Format.Channels)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	step := BlockSize * int(p.Format.Channels)
	for i := 0; i < len(samples); i += step {
		end := min(i+step, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	enc.AddEncodeTime(time.Since(start))
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}
	return enc.Bytes(), nil
}

func decodeFLAC(data []byte) ([][]float64, uint32, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, 0, encErr("flac", err)
	}
	defer stream.Close()

	nch := int(stream.Info.NChannels)
	if nch == 0 {
		return nil, 0, encErr("flac", errors.New("zero channels"))
	}
	out := make([][]float64, nch)
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, encErr("flac", err)
		}
		bits := f.BitsPerSample
		if bits == 0 {
			bits = stream.Info.BitsPerSample
		}
		scale := float64(int64(1) << (bits - 1))
		for c, sub := range f.Subframes {
			if c >= nch {
				break
			}
			for _, s := range sub.Samples[:sub.NSamples] {
				// 16-bit input goes through Dequantize so re-encoding is lossless.
				if bits == 16 {
					out[c] = append(out[c], Dequantize(int16(s)))
				} else {
					out[c] = append(out[c], float64(s)/scale)
				}
			}
		}
	}
	return out, stream.Info.SampleRate, nil
}
