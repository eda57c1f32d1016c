package encoder

import (
	"bytes"
	"errors"
	"fmt"
)

// Encode turns the chunks of one recording into a canonical WAV payload.
// Chunks are concatenated in order before decoding, so a container split
// across several callbacks decodes the same as one written in a single piece.
func Encode(chunks [][]byte, src Source) (Payload, error) {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return Payload{}, encErr(string(src.Codec), ErrEmpty)
	}
	raw := bytes.Join(chunks, nil)

	var (
		chans [][]float64
		rate  = src.SampleRate
		err   error
	)
	switch src.Codec {
	case CodecS16LE, "":
		if err = checkRaw(src); err != nil {
			return Payload{}, err
		}
		chans, err = decodeS16(raw, int(src.Channels))
	case CodecF32LE:
		if err = checkRaw(src); err != nil {
			return Payload{}, err
		}
		chans, err = decodeF32(raw, int(src.Channels))
	case CodecWAV:
		var f Format
		chans, f, err = DecodeWAV(raw)
		rate = f.SampleRate
	case CodecFLAC:
		chans, rate, err = decodeFLAC(raw)
	default:
		return Payload{}, encErr(string(src.Codec), ErrUnsupported)
	}
	if err != nil {
		return Payload{}, err
	}
	if len(chans) == 0 || len(chans[0]) == 0 {
		return Payload{}, encErr(string(src.Codec), ErrEmpty)
	}
	return EncodeWAV(chans, rate)
}

func checkRaw(src Source) error {
	if src.SampleRate == 0 || src.Channels == 0 {
		return encErr(string(src.Codec), errors.New("raw source needs sample rate and channels"))
	}
	if src.Channels > 8 {
		return encErr(string(src.Codec), fmt.Errorf("%d channels", src.Channels))
	}
	return nil
}
