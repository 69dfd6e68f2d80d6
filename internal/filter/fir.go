// Package filter holds the streaming FIR preprocessing bank applied to
// every chunk before it enters the ring: a 1-40 Hz bandpass followed by a
// notch around the power-line frequency. Filter state persists across
// chunks so the stream stays continuous.
package filter

import (
	"math"

	"github.com/relabs-tech/bci_runtime/internal/eeg"
)

const (
	numTaps = 101

	bandpassLoHz = 1.0
	bandpassHiHz = 40.0
	notchLoHz    = 48.0
	notchHiHz    = 52.0
)

// FIR is one linear-phase filter with per-channel circular delay lines.
type FIR struct {
	taps  []float64
	delay [][]float64
	pos   []int
}

func newFIR(taps []float64, numCh int) *FIR {
	f := &FIR{
		taps:  taps,
		delay: make([][]float64, numCh),
		pos:   make([]int, numCh),
	}
	for ch := range f.delay {
		f.delay[ch] = make([]float64, len(taps))
	}
	return f
}

// process pushes one sample through channel ch's delay line and returns the
// filtered value.
func (f *FIR) process(ch int, x float64) float64 {
	d := f.delay[ch]
	p := f.pos[ch]
	d[p] = x

	var acc float64
	idx := p
	for _, t := range f.taps {
		acc += t * d[idx]
		idx--
		if idx < 0 {
			idx = len(d) - 1
		}
	}

	p++
	if p == len(d) {
		p = 0
	}
	f.pos[ch] = p
	return acc
}

// designLowpass returns Hamming-windowed sinc taps for cutoff fc (Hz).
func designLowpass(n int, fs, fc float64) []float64 {
	taps := make([]float64, n)
	m := float64(n - 1)
	var sum float64
	for i := 0; i < n; i++ {
		k := float64(i) - m/2
		var v float64
		if k == 0 {
			v = 2 * fc / fs
		} else {
			v = math.Sin(2*math.Pi*fc*k/fs) / (math.Pi * k)
		}
		// Hamming window
		v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/m)
		taps[i] = v
		sum += v
	}
	// unity DC gain before band arithmetic
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// DesignBandpass returns taps passing [lo, hi] Hz.
func DesignBandpass(n int, fs, lo, hi float64) []float64 {
	lpHi := designLowpass(n, fs, hi)
	lpLo := designLowpass(n, fs, lo)
	taps := make([]float64, n)
	for i := range taps {
		taps[i] = lpHi[i] - lpLo[i]
	}
	return taps
}

// DesignBandstop returns taps rejecting [lo, hi] Hz (spectral inversion of
// the matching bandpass).
func DesignBandstop(n int, fs, lo, hi float64) []float64 {
	taps := DesignBandpass(n, fs, lo, hi)
	for i := range taps {
		taps[i] = -taps[i]
	}
	taps[(n-1)/2] += 1
	return taps
}

// Bank chains the bandpass and notch stages over every channel of a chunk.
type Bank struct {
	bandpass *FIR
	notch    *FIR
	numCh    int
}

// NewBank designs the default bank for the given channel count and sample
// rate.
func NewBank(numCh, sampleRateHz int) *Bank {
	fs := float64(sampleRateHz)
	return &Bank{
		bandpass: newFIR(DesignBandpass(numTaps, fs, bandpassLoHz, bandpassHiHz), numCh),
		notch:    newFIR(DesignBandstop(numTaps, fs, notchLoHz, notchHiHz), numCh),
		numCh:    numCh,
	}
}

// ProcessChunk filters the chunk in place.
func (b *Bank) ProcessChunk(c *eeg.Chunk) {
	for scan := 0; scan < c.NumScans; scan++ {
		for ch := 0; ch < c.NumCh && ch < b.numCh; ch++ {
			i := scan*c.NumCh + ch
			v := b.bandpass.process(ch, float64(c.Data[i]))
			v = b.notch.process(ch, v)
			c.Data[i] = float32(v)
		}
	}
}
