package acq

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/config"
)

// WaveComponent is one background signal superimposed on every channel.
type WaveComponent struct {
	FreqHz  float64
	AmpUV   float64
	Enabled bool
}

// SynthConfigs shapes the synthetic EEG stream.
type SynthConfigs struct {
	SSVEPAmplitudeUV float64
	NoiseSigmaUV     float64

	DCDrift   WaveComponent
	Alpha     WaveComponent
	Beta      WaveComponent
	LineNoise WaveComponent

	OccasionalArtifacts bool

	// Paced replays samples at real time (one chunk per chunk period).
	// Tests turn this off to run as fast as possible.
	Paced bool
}

// DefaultSynthConfigs mimics a resting subject in front of a stimulator:
// drift, line noise, and alpha/beta background on, random artifacts off.
func DefaultSynthConfigs() SynthConfigs {
	return SynthConfigs{
		SSVEPAmplitudeUV: 20.0,
		NoiseSigmaUV:     5.0,
		DCDrift:          WaveComponent{FreqHz: 0.1, AmpUV: 3.0, Enabled: true},
		Alpha:            WaveComponent{FreqHz: 10.0, AmpUV: 4.0, Enabled: true},
		Beta:             WaveComponent{FreqHz: 20.0, AmpUV: 3.0, Enabled: true},
		LineNoise:        WaveComponent{FreqHz: 50.0, AmpUV: 5.0, Enabled: true},
		Paced:            true,
	}
}

// Synthetic generates a continuous EEG-like stream at the configured sample
// rate, mimicking the headset's GetData API. Used by the producer goroutine
// only; no internal locking beyond the stimulus frequency, which the
// stimulus controller pokes from its own goroutine.
type Synthetic struct {
	cfg   SynthConfigs
	fs    float64
	numCh int

	labels []string

	mu         sync.Mutex
	stimulusHz float64

	rng         *rand.Rand
	sampleCount uint64

	stimPhase  float64
	driftPhase float64
	alphaPhase float64
	betaPhase  float64
	linePhase  float64

	artifactSamplesLeft   int
	samplesToNextArtifact int

	lastChunk time.Time
}

// NewSynthetic builds the generator for the configured channel count.
func NewSynthetic(c *config.Config, sc SynthConfigs) *Synthetic {
	labels := make([]string, c.NumChannels)
	for i := range labels {
		labels[i] = "EEG" + strconv.Itoa(i+1)
	}
	return &Synthetic{
		cfg:    sc,
		fs:     float64(c.SampleRateHz),
		numCh:  c.NumChannels,
		labels: labels,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Synthetic) Init() error               { return nil }
func (s *Synthetic) Start(testMode bool) error { return nil }
func (s *Synthetic) StopAndClose() error       { return nil }
func (s *Synthetic) NumChannels() int          { return s.numCh }
func (s *Synthetic) ChannelLabels() []string   { return append([]string(nil), s.labels...) }

// SetActiveStimulusHz points the generator at the currently flickering
// stimulus; 0 disables the SSVEP component.
func (s *Synthetic) SetActiveStimulusHz(hz float64) {
	s.mu.Lock()
	s.stimulusHz = hz
	s.mu.Unlock()
}

// GetData synthesizes numScans scans. When paced, it sleeps out the
// remainder of the chunk period so downstream timers see realistic rates.
func (s *Synthetic) GetData(numScans int, dest []float32) error {
	if numScans <= 0 {
		return nil
	}

	if s.cfg.Paced {
		period := time.Duration(float64(numScans) / s.fs * float64(time.Second))
		if !s.lastChunk.IsZero() {
			elapsed := time.Since(s.lastChunk)
			if elapsed < period {
				time.Sleep(period - elapsed)
			}
		}
		s.lastChunk = time.Now()
	}

	s.mu.Lock()
	stimHz := s.stimulusHz
	s.mu.Unlock()

	dt := 1.0 / s.fs
	twoPi := 2 * math.Pi

	for scan := 0; scan < numScans; scan++ {
		// advance shared phases once per scan
		s.stimPhase += twoPi * stimHz * dt
		s.driftPhase += twoPi * s.cfg.DCDrift.FreqHz * dt
		s.alphaPhase += twoPi * s.cfg.Alpha.FreqHz * dt
		s.betaPhase += twoPi * s.cfg.Beta.FreqHz * dt
		s.linePhase += twoPi * s.cfg.LineNoise.FreqHz * dt

		var background float64
		if s.cfg.DCDrift.Enabled {
			background += s.cfg.DCDrift.AmpUV * math.Sin(s.driftPhase)
		}
		if s.cfg.Alpha.Enabled {
			background += s.cfg.Alpha.AmpUV * math.Sin(s.alphaPhase)
		}
		if s.cfg.Beta.Enabled {
			background += s.cfg.Beta.AmpUV * math.Sin(s.betaPhase)
		}
		if s.cfg.LineNoise.Enabled {
			background += s.cfg.LineNoise.AmpUV * math.Sin(s.linePhase)
		}

		var stim float64
		if stimHz > 0 {
			stim = s.cfg.SSVEPAmplitudeUV * math.Sin(s.stimPhase)
		}

		artifact := s.nextArtifactSample()

		for ch := 0; ch < s.numCh; ch++ {
			noise := s.cfg.NoiseSigmaUV * s.rng.NormFloat64()
			dest[scan*s.numCh+ch] = float32(background + stim + noise + artifact)
		}
		s.sampleCount++
	}

	return nil
}

// nextArtifactSample emits occasional high-amplitude bursts (blinks, jaw
// clenches) lasting 50-130 ms.
func (s *Synthetic) nextArtifactSample() float64 {
	if !s.cfg.OccasionalArtifacts {
		return 0
	}

	if s.artifactSamplesLeft > 0 {
		s.artifactSamplesLeft--
		return 250.0 * (0.5 + s.rng.Float64())
	}

	if s.samplesToNextArtifact <= 0 {
		// next burst 4-12 s out, lasting 50-130 ms
		s.samplesToNextArtifact = int(s.fs * (4 + 8*s.rng.Float64()))
		s.artifactSamplesLeft = 0
		return 0
	}

	s.samplesToNextArtifact--
	if s.samplesToNextArtifact == 0 {
		s.artifactSamplesLeft = int(s.fs * (0.05 + 0.08*s.rng.Float64()))
	}
	return 0
}
