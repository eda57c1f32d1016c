// Package vad ends a recording after a sustained stretch of low input energy.
package vad

import (
	"context"
	"time"
)

const (
	DefaultThreshold = 0.01
	DefaultTimeout   = 1500 * time.Millisecond
	DefaultInterval  = time.Second / 60
)

type Config struct {
	// Threshold is the RMS level (0..1) at or above which a sample counts
	// as voice.
	Threshold float64
	Timeout   time.Duration
	Interval  time.Duration
	// LeadIn ignores silence for this long after the first sample so the
	// speaker has time to begin. Zero disables it.
	LeadIn time.Duration
}

func (c Config) WithDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Detector holds the silence state of one recording. It fires at most once.
type Detector struct {
	cfg          Config
	first        time.Time
	silenceSince time.Time
	fired        bool
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.WithDefaults()}
}

// Observe feeds one energy sample taken at now and reports whether this
// sample is the one that ends the recording.
func (d *Detector) Observe(energy float64, now time.Time) bool {
	if d.fired {
		return false
	}
	if d.first.IsZero() {
		d.first = now
	}
	if energy >= d.cfg.Threshold {
		d.silenceSince = time.Time{}
		return false
	}
	if now.Sub(d.first) < d.cfg.LeadIn {
		return false
	}
	if d.silenceSince.IsZero() {
		d.silenceSince = now
	}
	if now.Sub(d.silenceSince) >= d.cfg.Timeout {
		d.fired = true
		return true
	}
	return false
}

// SilenceSince returns the start of the current quiet stretch, if any.
func (d *Detector) SilenceSince() (time.Time, bool) {
	return d.silenceSince, !d.silenceSince.IsZero()
}

func (d *Detector) Fired() bool { return d.fired }

// Source is a live capture stream.
type Source interface {
	Energy() float64
	// Done closes when the stream is released.
	Done() <-chan struct{}
}

// Run samples src every cfg.Interval. The returned channel delivers the
// fire time once and closes; it closes without a value if src is released
// or ctx ends first. onSample, if set, sees every sample on the sampling
// goroutine.
func Run(ctx context.Context, src Source, cfg Config, onSample func(energy float64)) <-chan time.Time {
	cfg = cfg.WithDefaults()
	out := make(chan time.Time, 1)
	go func() {
		defer close(out)
		d := NewDetector(cfg)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-src.Done():
				return
			case now := <-ticker.C:
				e := src.Energy()
				if onSample != nil {
					onSample(e)
				}
				if d.Observe(e, now) {
					out <- now
					return
				}
			}
		}
	}()
	return out
}
