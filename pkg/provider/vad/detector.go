package vad

import (
	"fmt"
	"time"
)

// Detector defaults, matching the tuning the pipeline was calibrated with:
// 512-sample windows at 16 kHz, a permissive 0.3 speech threshold, 700 ms of
// silence to close a segment, and 300 ms of padding on segment bounds.
const (
	DefaultSampleRate    = 16000
	DefaultWindowSamples = 512
	DefaultThreshold     = 0.3
	DefaultMinSilence    = 700 * time.Millisecond
	DefaultSpeechPad     = 300 * time.Millisecond
)

// hysteresisGap is subtracted from the speech threshold to form the silence
// threshold, so a segment does not flap closed on a single borderline window.
const hysteresisGap = 0.15

// DetectorConfig tunes the hysteresis detector. Zero values take the
// package defaults above.
type DetectorConfig struct {
	// SampleRate of the analysis windows in Hz.
	SampleRate int

	// WindowSamples is the number of samples per analysis window.
	WindowSamples int

	// Threshold is the probability at or above which a window counts as
	// speech. Windows below Threshold-0.15 count as silence; the band between
	// extends an active segment without starting one.
	Threshold float64

	// MinSilence is how long silence must persist before an active segment
	// is closed.
	MinSilence time.Duration

	// SpeechPad widens reported segment bounds: starts shift earlier by this
	// much, ends later. It does not delay event emission.
	SpeechPad time.Duration
}

// Detector turns a stream of per-window speech probabilities into discrete
// start/end events with hysteresis: a segment opens at Threshold, stays open
// through the hysteresis band, and closes only after MinSilence of quiet.
// At most one VADSpeechStart or VADSpeechEnd is emitted per window.
//
// A Detector is not safe for concurrent use; the audio receive loop owns it.
type Detector struct {
	cfg          DetectorConfig
	negThreshold float64

	minSilenceSamples int
	padSamples        int

	triggered bool
	current   int // samples consumed since start/Reset
	tempEnd   int // sample offset where tentative silence began; 0 = none
}

// NewDetector validates cfg, applies defaults for zero fields, and returns a
// ready Detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.WindowSamples == 0 {
		cfg.WindowSamples = DefaultWindowSamples
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MinSilence == 0 {
		cfg.MinSilence = DefaultMinSilence
	}
	if cfg.SpeechPad == 0 {
		cfg.SpeechPad = DefaultSpeechPad
	}

	if cfg.SampleRate < 0 || cfg.WindowSamples < 0 {
		return nil, fmt.Errorf("vad: negative sample rate or window size")
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold %.3f out of range (0, 1)", cfg.Threshold)
	}
	if cfg.MinSilence < 0 || cfg.SpeechPad < 0 {
		return nil, fmt.Errorf("vad: negative duration")
	}

	neg := cfg.Threshold - hysteresisGap
	if neg < 0.01 {
		neg = 0.01
	}

	return &Detector{
		cfg:               cfg,
		negThreshold:      neg,
		minSilenceSamples: int(cfg.MinSilence.Seconds() * float64(cfg.SampleRate)),
		padSamples:        int(cfg.SpeechPad.Seconds() * float64(cfg.SampleRate)),
	}, nil
}

// Feed consumes one window's speech probability and returns the verdict for
// that window.
func (d *Detector) Feed(prob float64) VADEvent {
	d.current += d.cfg.WindowSamples

	if prob >= d.cfg.Threshold {
		d.tempEnd = 0
		if !d.triggered {
			d.triggered = true
			start := d.current - d.cfg.WindowSamples - d.padSamples
			if start < 0 {
				start = 0
			}
			return VADEvent{Type: VADSpeechStart, Probability: prob, Offset: start}
		}
		return VADEvent{Type: VADSpeechContinue, Probability: prob}
	}

	if d.triggered {
		if prob >= d.negThreshold {
			// Hysteresis band: not speech enough to restart the silence clock,
			// not silence enough to run it.
			return VADEvent{Type: VADSpeechContinue, Probability: prob}
		}
		if d.tempEnd == 0 {
			d.tempEnd = d.current
		}
		if d.current-d.tempEnd < d.minSilenceSamples {
			return VADEvent{Type: VADSpeechContinue, Probability: prob}
		}
		end := d.tempEnd + d.padSamples
		d.triggered = false
		d.tempEnd = 0
		return VADEvent{Type: VADSpeechEnd, Probability: prob, Offset: end}
	}

	return VADEvent{Type: VADSilence, Probability: prob}
}

// Triggered reports whether the detector currently considers speech active.
func (d *Detector) Triggered() bool {
	return d.triggered
}

// Reset clears all detection state, as if the detector had just been created.
func (d *Detector) Reset() {
	d.triggered = false
	d.current = 0
	d.tempEnd = 0
}

// WindowDuration returns the wall-clock span of one analysis window.
func (d *Detector) WindowDuration() time.Duration {
	if d.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(d.cfg.WindowSamples) * time.Second / time.Duration(d.cfg.SampleRate)
}
