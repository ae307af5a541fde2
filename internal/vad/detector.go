package vad

import (
	"math"
	"time"
)

// State classifies a single frame relative to the adaptive threshold.
type State int

const (
	// Silence means the frame carries no listener speech worth acting on.
	Silence State = iota
	// Near means energy is approaching the trigger threshold (>= 70%)
	// without a sustained speech run.
	Near
	// Trigger means a sustained speech run crossed the threshold.
	Trigger
)

func (s State) String() string {
	switch s {
	case Near:
		return "near"
	case Trigger:
		return "trigger"
	}
	return "silence"
}

// Config holds the thresholds for the activity gate. All values are
// tunables; the zero value is unusable, start from Default().
type Config struct {
	BaseThreshold   float64 // floor for the dynamic threshold
	MinThreshold    float64 // clamp low
	MaxThreshold    float64 // clamp high
	NoiseMultiplier float64 // ambient EMA multiplier
	AmbientDecay    float64 // EMA decay rate per frame (0..1)
	VisualCeiling   float64 // frames above this never feed the ambient EMA
	MinFrames       int     // consecutive frames required to trigger
	Cooldown        time.Duration
}

// Default returns the gate configuration tuned for 16kHz mono capture.
func Default() Config {
	return Config{
		BaseThreshold:   0.06,
		MinThreshold:    0.04,
		MaxThreshold:    0.30,
		NoiseMultiplier: 2.5,
		AmbientDecay:    0.05,
		VisualCeiling:   0.25,
		MinFrames:       4,
		Cooldown:        1500 * time.Millisecond,
	}
}

// Sample is the per-frame output of the detector.
type Sample struct {
	RMS       float64
	Threshold float64
	State     State
	Triggered bool
}

// Detector is an adaptive acoustic gate that decides whether the listener
// is speaking over synthesized playback. It deliberately avoids any model
// invocation: decisions are per-frame so interruption latency stays within
// one frame. Not safe for concurrent use; one detector per session.
type Detector struct {
	cfg Config

	ambient     float64
	ambientInit bool
	run         int
	lastTrigger time.Time

	now func() time.Time
}

// New constructs a Detector. Frames are expected as PCM16 mono at a fixed rate.
func New(cfg Config) *Detector {
	if cfg.MinFrames <= 0 {
		cfg.MinFrames = 1
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// Reset clears adaptive state; used on session (re)start.
func (d *Detector) Reset() {
	d.ambient = 0
	d.ambientInit = false
	d.run = 0
	d.lastTrigger = time.Time{}
}

// Process classifies one frame. ttsIsSpeaking gates both the ambient
// learning (the synthesized voice must not be learned as room noise) and
// the trigger evaluation (there is nothing to interrupt while quiet).
func (d *Detector) Process(frame []int16, ttsIsSpeaking bool) Sample {
	rms := normalizedRMS(frame)

	if !ttsIsSpeaking && rms < d.cfg.VisualCeiling {
		if !d.ambientInit {
			d.ambient = rms
			d.ambientInit = true
		} else {
			d.ambient = d.ambient*(1-d.cfg.AmbientDecay) + rms*d.cfg.AmbientDecay
		}
	}

	threshold := math.Max(d.cfg.BaseThreshold, d.ambient*d.cfg.NoiseMultiplier)
	threshold = clamp(threshold, d.cfg.MinThreshold, d.cfg.MaxThreshold)

	if !ttsIsSpeaking {
		d.run = 0
		return Sample{RMS: rms, Threshold: threshold, State: Silence}
	}

	if rms >= threshold {
		d.run++
	} else if d.run > 0 {
		d.run--
	}

	state := Silence
	triggered := false
	switch {
	case d.run >= d.cfg.MinFrames:
		state = Trigger
		if d.cooldownElapsed() {
			triggered = true
			d.lastTrigger = d.now()
			d.run = 0
		}
	case rms >= threshold*0.7:
		state = Near
	}

	return Sample{RMS: rms, Threshold: threshold, State: state, Triggered: triggered}
}

func (d *Detector) cooldownElapsed() bool {
	if d.lastTrigger.IsZero() {
		return true
	}
	return d.now().Sub(d.lastTrigger) >= d.cfg.Cooldown
}

// normalizedRMS computes root-mean-square energy scaled to [0,1].
func normalizedRMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(frame))) / 32768.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
