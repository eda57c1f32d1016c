package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// Quantize clamps s to [-1, 1] and maps it onto int16. Negative values scale
// by 32768 and positive by 32767 so both extremes are representable.
func Quantize(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(math.Round(s * 32768))
	}
	return int16(math.Round(s * 32767))
}

// Dequantize is the inverse of Quantize.
func Dequantize(v int16) float64 {
	if v < 0 {
		return float64(v) / 32768
	}
	return float64(v) / 32767
}

// EncodeWAV quantizes planar float channels and wraps them in a canonical
// 44-byte RIFF/WAVE header. All channels must have the same length.
func EncodeWAV(channels [][]float64, sampleRate uint32) (Payload, error) {
	if len(channels) == 0 {
		return Payload{}, encErr("wav", errors.New("no channels"))
	}
	if sampleRate == 0 {
		return Payload{}, encErr("wav", errors.New("sample rate is zero"))
	}
	n := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != n {
			return Payload{}, encErr("wav", fmt.Errorf("channel %d has %d samples, want %d", i+1, len(ch), n))
		}
	}

	f := Format{SampleRate: sampleRate, Channels: uint16(len(channels)), BitsPerSample: BitsPerSample}
	dataSize := n * f.blockAlign()
	out := make([]byte, HeaderSize+dataSize)
	putHeader(out, f, dataSize)

	pos := HeaderSize
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			binary.LittleEndian.PutUint16(out[pos:], uint16(Quantize(ch[i])))
			pos += 2
		}
	}
	return Payload{Bytes: out, Format: f}, nil
}

// WrapPCM16 puts a header in front of already-quantized interleaved samples.
func WrapPCM16(samples []int16, sampleRate uint32, channels uint16) Payload {
	f := Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: BitsPerSample}
	out := make([]byte, HeaderSize+len(samples)*2)
	putHeader(out, f, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[HeaderSize+i*2:], uint16(s))
	}
	return Payload{Bytes: out, Format: f}
}

func putHeader(b []byte, f Format, dataSize int) {
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], uint32(HeaderSize-8+dataSize))
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(b[22:24], f.Channels)
	binary.LittleEndian.PutUint32(b[24:28], f.SampleRate)
	binary.LittleEndian.PutUint32(b[28:32], f.byteRate())
	binary.LittleEndian.PutUint16(b[32:34], uint16(f.blockAlign()))
	binary.LittleEndian.PutUint16(b[34:36], f.BitsPerSample)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], uint32(dataSize))
}

// DecodeWAV parses a RIFF/WAVE stream into planar float channels. It accepts
// 16-bit PCM and 32-bit IEEE float, skips unknown chunks, and tolerates a
// data size larger than the stream (as written by streaming encoders).
func DecodeWAV(data []byte) ([][]float64, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, encErr("wav", errors.New("missing RIFF/WAVE signature"))
	}

	var (
		f       Format
		tag     uint16
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if size < 0 || end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, encErr("wav", errors.New("short fmt chunk"))
			}
			tag = binary.LittleEndian.Uint16(data[body:])
			f.Channels = binary.LittleEndian.Uint16(data[body+2:])
			f.SampleRate = binary.LittleEndian.Uint32(data[body+4:])
			f.BitsPerSample = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, encErr("wav", errors.New("data chunk before fmt chunk"))
			}
			chans, err := decodeInterleaved(data[body:end], tag, f)
			if err != nil {
				return nil, Format{}, err
			}
			return chans, Format{SampleRate: f.SampleRate, Channels: f.Channels, BitsPerSample: BitsPerSample}, nil
		}

		pos = end
		if size%2 == 1 {
			pos++
		}
	}
	return nil, Format{}, encErr("wav", errors.New("no data chunk"))
}

func decodeInterleaved(b []byte, tag uint16, f Format) ([][]float64, error) {
	if f.Channels == 0 {
		return nil, encErr("wav", errors.New("zero channels"))
	}
	switch {
	case tag == wavFormatPCM && f.BitsPerSample == 16:
		return decodeS16(b, int(f.Channels))
	case tag == wavFormatFloat && f.BitsPerSample == 32:
		return decodeF32(b, int(f.Channels))
	default:
		return nil, encErr("wav", fmt.Errorf("%w: format %d with %d bits", ErrUnsupported, tag, f.BitsPerSample))
	}
}

func decodeS16(b []byte, channels int) ([][]float64, error) {
	frame := 2 * channels
	if len(b)%frame != 0 {
		return nil, encErr("s16le", fmt.Errorf("%d bytes is not a whole number of %d-byte frames", len(b), frame))
	}
	n := len(b) / frame
	out := planar(channels, n)
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(b[i*frame+c*2:]))
			out[c][i] = Dequantize(v)
		}
	}
	return out, nil
}

func decodeF32(b []byte, channels int) ([][]float64, error) {
	frame := 4 * channels
	if len(b)%frame != 0 {
		return nil, encErr("f32le", fmt.Errorf("%d bytes is not a whole number of %d-byte frames", len(b), frame))
	}
	n := len(b) / frame
	out := planar(channels, n)
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*frame+c*4:])))
		}
	}
	return out, nil
}

func planar(channels, n int) [][]float64 {
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, n)
	}
	return out
}

// PCM16 returns the interleaved int16 samples of a canonical payload.
func PCM16(p Payload) ([]int16, error) {
	if len(p.Bytes) < HeaderSize {
		return nil, encErr("wav", io.ErrUnexpectedEOF)
	}
	if !bytes.Equal(p.Bytes[0:4], []byte("RIFF")) {
		return nil, encErr("wav", errors.New("missing RIFF signature"))
	}
	data := p.Bytes[HeaderSize:]
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}
