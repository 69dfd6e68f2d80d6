// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package window builds overlapping analysis windows from the chunk ring.
// Because the window length need not be an integer multiple of the chunk
// size, the tail of a chunk whose head completed a window is carried over
// in a stash.
package window

import (
	"log"
	"path/filepath"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/quality"
	"github.com/relabs-tech/bci_runtime/internal/ring"
	"github.com/relabs-tech/bci_runtime/internal/session"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

// trimScansPerEnd is how many scans are dropped from each end of a
// calibration window before logging (stimulus onset/offset transients).
const trimScansPerEnd = 40

// Run-mode watchdog: after watchdogPeriod of run mode with artifactual
// windows, raise the too-many-bad-windows popup when the bad:clean ratio
// crosses badCleanRatio.
const (
	watchdogPeriod = 9 * time.Second
	badCleanRatio  = 0.25
)

// Consumer pops chunks, maintains the sliding window, hands every finalized
// window to the quality analyzer, logs training windows to CSV, and
// performs the finalize handshake.
type Consumer struct {
	store *state.Store
	rb    *ring.Ring
	an    *quality.Analyzer

	numCh        int
	chunkSamples int
	winLen       int // samples
	winHop       int // samples

	win      *sampleRing
	stash    []float32
	stashLen int

	logger *windowLogger
	root   string
	keepN  int

	tick   uint64
	primed bool

	// scratch buffers reused across windows
	snap    []float32
	trimmed []float32

	// run-mode watchdog
	badCount      int
	cleanCount    int
	watchdogOn    bool
	watchdogStart time.Time
}

// NewConsumer wires the consumer against the shared store and chunk ring.
func NewConsumer(store *state.Store, rb *ring.Ring, an *quality.Analyzer, cfg *config.Config, projectRoot string) *Consumer {
	winLen := cfg.WindowScans * cfg.NumChannels
	chunkSamples := cfg.ScansPerChunk * cfg.NumChannels
	return &Consumer{
		store:        store,
		rb:           rb,
		an:           an,
		numCh:        cfg.NumChannels,
		chunkSamples: chunkSamples,
		winLen:       winLen,
		winHop:       cfg.HopScans * cfg.NumChannels,
		win:          newSampleRing(winLen),
		stash:        make([]float32, chunkSamples),
		logger:       newWindowLogger(cfg.NumChannels),
		root:         projectRoot,
		keepN:        cfg.SessionsKeep,
		snap:         make([]float32, 0, winLen),
		trimmed:      make([]float32, 0, winLen),
	}
}

// Run loops until the ring closes or stop is requested. Any panic is
// translated into a clean shutdown of the pipeline.
func (c *Consumer) Run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("consumer: FATAL: %v", r)
			c.rb.Close()
			c.store.RequestStop()
		}
	}()

	log.Println("consumer: start")
	for !c.store.Stopped() {
		if !c.ProcessOne() {
			break
		}
	}

	c.logger.Close()
	c.rb.Close()
	log.Println("consumer: exit")
}

// ProcessOne runs one iteration of the consumer protocol: finalize check,
// guard, hop, refill, re-validate, assess, per-mode handling. Returns false
// when the pipeline is terminal.
func (c *Consumer) ProcessOne() bool {
	c.handleFinalize()

	if !c.primed {
		if !c.refill(nil, nil) {
			return false
		}
		c.primed = true
	}

	// Guard: idle screens consume chunks without building windows so the
	// ring cannot overflow.
	st := c.store.UIState()
	fr := c.store.Freq()
	if st == state.UIHome || st == state.UIInstructions || st == state.UINone {
		if _, err := c.rb.Pop(); err != nil {
			return false
		}
		return true
	}
	prevState, prevFreq := st, fr

	// Hop, then refill to a full window.
	c.win.popN(c.winHop)
	if !c.refill(&prevState, &prevFreq) {
		if c.rb.Closed() && c.rb.Count() == 0 {
			return false
		}
		// UI changed mid-refill; window discarded.
		return true
	}

	// Re-validate: a state or label change between the two snapshots means
	// the window spans a transition and must not be emitted.
	st = c.store.UIState()
	fr = c.store.Freq()
	if st != prevState || fr != prevFreq {
		return true
	}

	c.tick++
	c.snap = c.win.snapshot(c.snap)
	ws := c.an.Assess(c.snap)

	switch st {
	case state.UIActiveCalib:
		c.trimmed = c.win.trimmedSnapshot(c.trimmed, trimScansPerEnd*c.numCh, trimScansPerEnd*c.numCh)
		hasLabel := fr != state.FreqNone
		if hasLabel && c.logger.ensureOpen(c.logDir()) {
			c.logger.logWindow(c.trimmed, c.tick, st, true, ws.IsBad, fr)
		}

	case state.UIHardwareChecks:
		if c.logger.ensureOpen(c.logDir()) {
			c.logger.logWindow(c.snap, c.tick, st, false, ws.IsBad, state.FreqNone)
		}

	case state.UIActiveRun:
		c.runModeWatchdog(ws.IsBad)
	}

	return true
}

// refill pushes samples until the sliding window is full, taking from the
// stash first and the chunk ring after. When prevState/prevFreq are
// non-nil, the refill aborts (returns false) as soon as either changes —
// the caller discards the partial window.
func (c *Consumer) refill(prevState *state.UIState, prevFreq *state.TestFreq) bool {
	for c.win.len() < c.winLen {
		if prevState != nil {
			if c.store.UIState() != *prevState || c.store.Freq() != *prevFreq {
				return false
			}
		}

		remaining := c.winLen - c.win.len()

		if c.stashLen > 0 {
			take := c.stashLen
			if take > remaining {
				take = remaining
			}
			for i := 0; i < take; i++ {
				c.win.push(c.stash[i])
			}
			if take < c.stashLen {
				copy(c.stash, c.stash[take:c.stashLen])
			}
			c.stashLen -= take
			continue
		}

		chunk, err := c.rb.Pop()
		if err != nil {
			return false
		}
		if len(chunk.Data) <= remaining {
			for _, v := range chunk.Data {
				c.win.push(v)
			}
		} else {
			for _, v := range chunk.Data[:remaining] {
				c.win.push(v)
			}
			leftover := len(chunk.Data) - remaining
			copy(c.stash, chunk.Data[remaining:])
			c.stashLen = leftover
			if c.stashLen > c.chunkSamples {
				log.Printf("consumer: stash length %d exceeds chunk size %d", c.stashLen, c.chunkSamples)
				c.stashLen = 0
				return false
			}
		}
	}
	return true
}

// handleFinalize performs the end-of-calibration handshake: close the CSV,
// rename the session directories to their final names, publish the new
// paths, prune, and hand off to the trainer.
func (c *Consumer) handleFinalize() {
	if !c.store.FinalizeRequest.TryConsume() {
		return
	}

	log.Println("consumer: finalize requested")
	c.logger.Close()

	snap := c.store.Session()
	s := session.Session{
		ProjectRoot: c.root,
		SubjectID:   snap.SubjectID,
		SessionID:   snap.SessionID,
		DataDir:     snap.DataDir,
		ModelDir:    snap.ModelDir,
	}

	final, err := session.FinalizeSessionDirs(s)
	if err != nil {
		log.Printf("consumer: finalize rename failed: %v", err)
	} else {
		c.store.UpdateSessionDirs(final.SessionID, final.DataDir, final.ModelDir)
		session.PruneOldSessions(filepath.Dir(final.DataDir), c.keepN)
		session.PruneOldSessions(filepath.Dir(final.ModelDir), c.keepN)
	}

	c.store.TrainJobRequest.Set()
}

// logDir picks the current session data dir, falling back to the project
// root for hardware checks run outside a session.
func (c *Consumer) logDir() string {
	if d := c.store.Session().DataDir; d != "" {
		return d
	}
	return c.root
}

// runModeWatchdog counts artifactual vs clean windows over a 9 second
// period and raises the popup when the ratio is too high.
func (c *Consumer) runModeWatchdog(isBad bool) {
	if c.watchdogOn && time.Since(c.watchdogStart) >= watchdogPeriod {
		tooMany := false
		if c.cleanCount == 0 {
			tooMany = c.badCount > 0
		} else if float64(c.badCount)/float64(c.cleanCount) >= badCleanRatio {
			tooMany = true
		}
		if tooMany {
			c.store.SetPopup(state.PopupTooManyBadWindows)
		}
		c.badCount = 0
		c.cleanCount = 0
		c.watchdogOn = false
	}

	if isBad {
		if !c.watchdogOn {
			c.watchdogOn = true
			c.watchdogStart = time.Now()
		}
		c.badCount++
	} else if c.watchdogOn {
		c.cleanCount++
	}
}

// StashLen reports the carried-over sample count (exported for tests).
func (c *Consumer) StashLen() int { return c.stashLen }

// Tick reports the number of emitted windows (exported for tests).
func (c *Consumer) Tick() uint64 { return c.tick }

// WindowFill reports the sliding ring occupancy (exported for tests).
func (c *Consumer) WindowFill() int { return c.win.len() }
