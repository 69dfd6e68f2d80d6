// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package quality flags artifactual analysis windows (eye blink, electrode
// pop, motion) using hard amplitude/step thresholds plus adaptive z-score
// gates on kurtosis and histogram entropy against a rolling baseline.
package quality

import (
	"log"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/bci_runtime/internal/eeg"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

// Gate thresholds, in microvolts where applicable.
const (
	MaxAbsUV         = 200.0
	MaxStepUV        = 100.0
	AmpPersistCount  = 2
	StepPersistCount = 2

	// Adaptive gate
	MinBaselineWins = 20
	KurtZ           = 3.5
	EntropyZ        = 3.5
	MinChFail       = 2
	epsStd          = 1e-6

	// Histogram entropy
	entropyBins = 64
	entropyMin  = -200.0
	entropyMax  = 200.0

	// Rolling baseline length in seconds
	baselineSeconds = 45.0

	// Publish cadence in windows
	uiUpdateEvery = 10
)

// WindowStats holds one window's per-channel statistics.
type WindowStats struct {
	Stats state.ChannelStats
	IsBad bool
}

// Analyzer is stateful across windows; it lives on the consumer goroutine
// and is not safe for concurrent use.
type Analyzer struct {
	store       *state.Store
	numCh       int
	windowScans int

	// rolling ring of the last needed WindowStats
	needed  int
	ringBuf []WindowStats
	head    int
	count   int

	// parallel aggregates over the ring contents
	sumMean    [eeg.MaxChannels]float64
	sumStd     [eeg.MaxChannels]float64
	sumRMS     [eeg.MaxChannels]float64
	sumKurt    [eeg.MaxChannels]float64
	sumEntropy [eeg.MaxChannels]float64
	kurtSumSq  [eeg.MaxChannels]float64
	entSumSq   [eeg.MaxChannels]float64
	maxAbs     [eeg.MaxChannels]float32
	maxStep    [eeg.MaxChannels]float32

	currentBad int
	overallBad int
	totalWins  int
	uiTick     int

	// scratch
	chBuf []float64
	hist  []float64
}

// New sizes the rolling baseline from the hop period: ceil(45s / hop_s)
// windows.
func New(store *state.Store, numCh, windowScans, hopScans, sampleRateHz int) *Analyzer {
	hopSec := float64(hopScans) / float64(sampleRateHz)
	needed := int(math.Ceil(baselineSeconds / hopSec))
	if needed < 1 {
		needed = 1
	}
	return &Analyzer{
		store:       store,
		numCh:       numCh,
		windowScans: windowScans,
		needed:      needed,
		ringBuf:     make([]WindowStats, needed),
		chBuf:       make([]float64, windowScans),
		hist:        make([]float64, entropyBins),
	}
}

// BaselineLen returns the rolling-ring capacity (exported for tests).
func (a *Analyzer) BaselineLen() int { return a.needed }

// Assess computes per-window statistics over an interleaved snapshot of
// windowScans*numCh samples, applies the hard and adaptive gates, folds the
// result into the rolling baseline, and publishes UI stats on cadence.
func (a *Analyzer) Assess(snapshot []float32) WindowStats {
	var ws WindowStats

	if len(snapshot) < a.windowScans*a.numCh {
		log.Printf("quality: snapshot too short (%d < %d), skipping window",
			len(snapshot), a.windowScans*a.numCh)
		return ws
	}
	if len(snapshot)%a.numCh != 0 {
		log.Printf("quality: snapshot size %d not divisible by %d channels, skipping window",
			len(snapshot), a.numCh)
		return ws
	}

	// rolling update (1): evict the oldest if full, subtract contributions
	var evicted WindowStats
	didEvict := false
	if a.count == a.needed {
		evicted = a.pop()
		didEvict = true
		if evicted.IsBad && a.currentBad > 0 {
			a.currentBad--
		}
		for ch := 0; ch < a.numCh; ch++ {
			a.sumMean[ch] -= float64(evicted.Stats.MeanUV[ch])
			a.sumStd[ch] -= float64(evicted.Stats.StdUV[ch])
			a.sumRMS[ch] -= float64(evicted.Stats.RMSUV[ch])
			a.sumKurt[ch] -= float64(evicted.Stats.Kurt[ch])
			a.sumEntropy[ch] -= float64(evicted.Stats.Entropy[ch])
			a.kurtSumSq[ch] -= float64(evicted.Stats.Kurt[ch]) * float64(evicted.Stats.Kurt[ch])
			a.entSumSq[ch] -= float64(evicted.Stats.Entropy[ch]) * float64(evicted.Stats.Entropy[ch])
		}
	}

	a.totalWins++

	failsMax := false
	failsStep := false
	failsKurtCount := 0
	failsEntCount := 0

	baselineWins := a.count // windows available before this one is pushed

	for ch := 0; ch < a.numCh; ch++ {
		overAmp := 0
		overStep := 0
		var sumSq float64
		var chMaxAbs, chMaxStep float32

		prev := snapshot[ch]
		for s := 0; s < a.windowScans; s++ {
			v := snapshot[s*a.numCh+ch]
			a.chBuf[s] = float64(v)
			sumSq += float64(v) * float64(v)

			av := float32(math.Abs(float64(v)))
			if av > chMaxAbs {
				chMaxAbs = av
			}
			if av > MaxAbsUV {
				overAmp++
			}

			if s > 0 {
				step := float32(math.Abs(float64(v - prev)))
				if step > chMaxStep {
					chMaxStep = step
				}
				if step > MaxStepUV {
					overStep++
				}
			}
			prev = v
		}

		mean := stat.Mean(a.chBuf, nil)
		std := stat.PopStdDev(a.chBuf, nil)
		rms := math.Sqrt(sumSq / float64(a.windowScans))
		kurt := excessKurtosis(a.chBuf, mean)
		entropy := a.histEntropy(a.chBuf)

		ws.Stats.MeanUV[ch] = float32(mean)
		ws.Stats.StdUV[ch] = float32(std)
		ws.Stats.RMSUV[ch] = float32(rms)
		ws.Stats.MaxAbsUV[ch] = chMaxAbs
		ws.Stats.MaxStepUV[ch] = chMaxStep
		ws.Stats.Kurt[ch] = float32(kurt)
		ws.Stats.Entropy[ch] = float32(entropy)

		if overAmp >= AmpPersistCount {
			failsMax = true
		}
		if overStep >= StepPersistCount {
			failsStep = true
		}

		// adaptive gate needs an established baseline
		if baselineWins >= MinBaselineWins {
			invN := 1.0 / float64(baselineWins)

			muK := a.sumKurt[ch] * invN
			muE := a.sumEntropy[ch] * invN

			varK := a.kurtSumSq[ch]*invN - muK*muK
			varE := a.entSumSq[ch]*invN - muE*muE
			if varK < 0 {
				varK = 0
			}
			if varE < 0 {
				varE = 0
			}

			sdK := math.Sqrt(varK) + epsStd
			sdE := math.Sqrt(varE) + epsStd

			if kurt > muK+KurtZ*sdK {
				failsKurtCount++
			}
			if entropy < muE-EntropyZ*sdE {
				failsEntCount++
			}
		}
	}

	ws.IsBad = failsMax || failsStep ||
		failsKurtCount >= MinChFail ||
		failsEntCount >= MinChFail

	if ws.IsBad {
		a.overallBad++
		a.currentBad++
	}

	// rolling update (2): push new, add contributions
	a.push(ws)
	for ch := 0; ch < a.numCh; ch++ {
		a.sumMean[ch] += float64(ws.Stats.MeanUV[ch])
		a.sumStd[ch] += float64(ws.Stats.StdUV[ch])
		a.sumRMS[ch] += float64(ws.Stats.RMSUV[ch])
		a.sumKurt[ch] += float64(ws.Stats.Kurt[ch])
		a.sumEntropy[ch] += float64(ws.Stats.Entropy[ch])
		a.kurtSumSq[ch] += float64(ws.Stats.Kurt[ch]) * float64(ws.Stats.Kurt[ch])
		a.entSumSq[ch] += float64(ws.Stats.Entropy[ch]) * float64(ws.Stats.Entropy[ch])
	}

	// rolling maxima: constant-time incorporate; linear rescan only when an
	// evicted window held the current max for a channel (rare).
	for ch := 0; ch < a.numCh; ch++ {
		if ws.Stats.MaxAbsUV[ch] > a.maxAbs[ch] {
			a.maxAbs[ch] = ws.Stats.MaxAbsUV[ch]
		}
		if ws.Stats.MaxStepUV[ch] > a.maxStep[ch] {
			a.maxStep[ch] = ws.Stats.MaxStepUV[ch]
		}
		if didEvict &&
			(evicted.Stats.MaxAbsUV[ch] == a.maxAbs[ch] || evicted.Stats.MaxStepUV[ch] == a.maxStep[ch]) {
			a.recomputeMax(ch)
		}
	}

	a.uiTick++
	if a.uiTick%uiUpdateEvery == 0 {
		a.publish()
	}

	return ws
}

func (a *Analyzer) push(ws WindowStats) {
	idx := (a.head + a.count) % a.needed
	if a.count == a.needed {
		// caller evicts before pushing; keep the invariant anyway
		a.head = (a.head + 1) % a.needed
		a.count--
	}
	a.ringBuf[idx] = ws
	a.count++
}

func (a *Analyzer) pop() WindowStats {
	ws := a.ringBuf[a.head]
	a.head = (a.head + 1) % a.needed
	a.count--
	return ws
}

func (a *Analyzer) recomputeMax(ch int) {
	var mabs, mstep float32
	for i := 0; i < a.count; i++ {
		w := &a.ringBuf[(a.head+i)%a.needed]
		if w.Stats.MaxAbsUV[ch] > mabs {
			mabs = w.Stats.MaxAbsUV[ch]
		}
		if w.Stats.MaxStepUV[ch] > mstep {
			mstep = w.Stats.MaxStepUV[ch]
		}
	}
	a.maxAbs[ch] = mabs
	a.maxStep[ch] = mstep
}

// publish copies per-channel rolling averages into the shared store.
func (a *Analyzer) publish() {
	if a.count == 0 {
		return
	}

	var out state.SignalStats
	out.NumWinInRolling = a.count
	inv := 1.0 / float64(a.count)
	for ch := 0; ch < a.numCh; ch++ {
		out.Rolling.MeanUV[ch] = float32(a.sumMean[ch] * inv)
		out.Rolling.StdUV[ch] = float32(a.sumStd[ch] * inv)
		out.Rolling.RMSUV[ch] = float32(a.sumRMS[ch] * inv)
		out.Rolling.Kurt[ch] = float32(a.sumKurt[ch] * inv)
		out.Rolling.Entropy[ch] = float32(a.sumEntropy[ch] * inv)
		out.Rolling.MaxAbsUV[ch] = a.maxAbs[ch]
		out.Rolling.MaxStepUV[ch] = a.maxStep[ch]
	}
	out.CurrentBadWinRate = float32(a.currentBad) / float32(a.count)
	if a.totalWins > 0 {
		out.OverallBadWinRate = float32(a.overallBad) / float32(a.totalWins)
	}

	a.store.SetSignalStats(out)
}

// excessKurtosis is m4/m2^2 - 3 over the channel mean.
func excessKurtosis(x []float64, mean float64) float64 {
	var m2, m4 float64
	for _, v := range x {
		d := v - mean
		d2 := d * d
		m2 += d2
		m4 += d2 * d2
	}
	n := float64(len(x))
	m2 /= n
	m4 /= n
	if m2 < 1e-12 {
		return 0
	}
	return m4/(m2*m2) - 3
}

// histEntropy bins the channel into 64 bins on [-200, +200] uV and takes
// the Shannon entropy of the normalized histogram.
func (a *Analyzer) histEntropy(x []float64) float64 {
	for i := range a.hist {
		a.hist[i] = 0
	}
	inv := 1.0 / (entropyMax - entropyMin)
	for _, v := range x {
		t := (v - entropyMin) * inv
		b := int(t * entropyBins)
		if b < 0 {
			b = 0
		} else if b > entropyBins-1 {
			b = entropyBins - 1
		}
		a.hist[b]++
	}
	n := float64(len(x))
	for i := range a.hist {
		a.hist[i] /= n
	}
	return stat.Entropy(a.hist)
}
