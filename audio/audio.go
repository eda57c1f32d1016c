package audio

import (
	"context"
	"strings"
	"time"
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name. Bluetooth headsets drop to a
// narrowband profile while the microphone is open.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved s16le frames. data is only valid for the
// duration of the call.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Clip is interleaved 16-bit PCM ready for the output device.
type Clip struct {
	Samples    []int16
	SampleRate uint32
	Channels   uint16
	// Speed scales the output rate; 0 and 1 both mean unchanged.
	Speed float64
}

// Rate is the device rate that plays the clip at Speed.
func (c Clip) Rate() uint32 {
	if c.Speed <= 0 || c.Speed == 1 {
		return c.SampleRate
	}
	return uint32(float64(c.SampleRate) * c.Speed)
}

func (c Clip) Duration() time.Duration {
	rate := c.Rate()
	if rate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / int(c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// Player blocks until the clip has been played or ctx is done. A cancelled
// context stops output promptly and returns ctx.Err().
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

type Context interface {
	Player
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice.Stop must not return until the driver has stopped invoking
// the callback.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}
