// Package beep plays short recording cues through the interview's playback
// device.
package beep

import (
	"context"
	"math"
	"sync"
	"time"

	"intervox/audio"
)

const (
	sampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	playTimeout = 2 * time.Second
)

// Cues plays the start, end and error tones. A nil *Cues is silent.
type Cues struct {
	player audio.Player

	once  sync.Once
	start audio.Clip
	end   audio.Clip
	fail  audio.Clip

	wg sync.WaitGroup
}

func New(player audio.Player) *Cues {
	return &Cues{player: player}
}

func (c *Cues) init() {
	c.start = clip(generateTick(sampleRate, startFreq, 0.2, startVolume, startDecay))
	c.end = clip(generateTick(sampleRate, endFreq, 0.2, endVolume, endDecay))
	c.fail = clip(generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay))
}

func clip(samples []int16) audio.Clip {
	return audio.Clip{Samples: samples, SampleRate: sampleRate, Channels: 2, Speed: 1}
}

func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur)*2)
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

func (c *Cues) play(pick func() audio.Clip) {
	if c == nil || c.player == nil {
		return
	}
	c.once.Do(c.init)
	cl := pick()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		c.player.Play(ctx, cl)
	}()
}

func (c *Cues) RecordingStarted() { c.play(func() audio.Clip { return c.start }) }

func (c *Cues) RecordingStopped() { c.play(func() audio.Clip { return c.end }) }

func (c *Cues) Failed() { c.play(func() audio.Clip { return c.fail }) }

// Wait blocks until queued cues have finished.
func (c *Cues) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
