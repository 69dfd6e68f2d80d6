// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stimulus runs the UI state machine: it sequences calibration
// blocks, enforces refresh-rate constraints on stimulus frequencies,
// arbitrates popups, creates sessions, and requests finalization.
package stimulus

import (
	"log"
	"strings"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/session"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

// Protocol defaults.
const (
	pollInterval      = 2 * time.Millisecond
	activeBlockLen    = 15 * time.Second
	restBlockLen      = 10 * time.Second
	minSubjectNameLen = 3
)

var (
	standardFreqs = []state.TestFreq{state.Freq8Hz, state.Freq9Hz, state.Freq10Hz, state.Freq11Hz, state.Freq12Hz}
	highFreqs     = []state.TestFreq{state.Freq20Hz, state.Freq25Hz, state.Freq30Hz, state.Freq35Hz}
)

type transition struct {
	from  state.UIState
	event state.UIEvent
	to    state.UIState
}

var transitionTable = []transition{
	{state.UINone, state.EvConnectionSuccessful, state.UIHome},

	{state.UIHome, state.EvStartCalib, state.UICalibOptions},
	{state.UICalibOptions, state.EvStartCalibFromOptions, state.UIInstructions},
	{state.UIInstructions, state.EvStimTimeout, state.UIActiveCalib},
	{state.UIActiveCalib, state.EvStimTimeout, state.UIInstructions},
	{state.UIActiveCalib, state.EvStimTimeoutEndCalib, state.UIPendingTrain},
	{state.UIPendingTrain, state.EvModelReady, state.UIHome},
	{state.UIPendingTrain, state.EvTrainingFailed, state.UIHome},

	{state.UIHome, state.EvStartRun, state.UIRunOptions},
	{state.UIRunOptions, state.EvStartDefault, state.UIActiveRun},
	{state.UIRunOptions, state.EvShowSessions, state.UISavedSessions},
	{state.UIHome, state.EvShowSessions, state.UISavedSessions},
	{state.UISavedSessions, state.EvSelectSession, state.UIActiveRun},
	{state.UISavedSessions, state.EvSelectNewSession, state.UICalibOptions},

	{state.UIHome, state.EvHardwareChecks, state.UIHardwareChecks},
	{state.UIHome, state.EvSettings, state.UISettings},

	{state.UICalibOptions, state.EvExit, state.UIHome},
	{state.UIInstructions, state.EvExit, state.UIHome},
	{state.UIActiveCalib, state.EvExit, state.UIHome},
	{state.UIPendingTrain, state.EvExit, state.UIHome},
	{state.UIRunOptions, state.EvExit, state.UIHome},
	{state.UISavedSessions, state.EvExit, state.UIHome},
	{state.UIActiveRun, state.EvExit, state.UIHome},
	{state.UIHardwareChecks, state.EvExit, state.UIHome},
	{state.UISettings, state.EvExit, state.UIHome},
}

// Controller is the single writer of UI state and seq. It creates and clears
// the current-session record and raises the form/run popups; the consumer
// publishes the finalized session paths and raises the run-mode bad-window
// popup.
type Controller struct {
	store *state.Store
	cfg   *config.Config
	root  string

	timer swTimer

	queue           []state.TestFreq
	queueIdx        int
	endCalibEmitted bool

	// popup latches
	awaitingOverwrite  bool
	awaitingHighFreq   bool
	overwriteConfirmed bool
	highFreqConfirmed  bool

	sess        session.Session
	haveSession bool
	epilepsy    state.EpilepsyRisk
	subjectName string
}

// NewController wires the controller against the store. projectRoot is the
// directory holding data/ and models/.
func NewController(store *state.Store, cfg *config.Config, projectRoot string) *Controller {
	return &Controller{
		store: store,
		cfg:   cfg,
		root:  projectRoot,
	}
}

// Run polls for events every 2ms until stop is requested.
func (c *Controller) Run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("stim: FATAL: %v", r)
			c.store.RequestStop()
		}
	}()

	log.Println("stim: start")
	for !c.store.Stopped() {
		if ev := c.NextEvent(); ev != state.EvNone {
			c.HandleEvent(ev)
		}
		time.Sleep(pollInterval)
	}
	log.Println("stim: exit")
}

// NextEvent polls the event sources in priority order: the external slot,
// then the internal timer/connection/model-ready conditions.
func (c *Controller) NextEvent() state.UIEvent {
	if ev := c.store.ConsumeEvent(); ev != state.EvNone {
		return ev
	}

	cur := c.store.UIState()

	if c.timer.expired() {
		c.timer.stop()
		if cur == state.UIActiveCalib && c.queueIdx >= len(c.queue) && !c.endCalibEmitted {
			c.endCalibEmitted = true
			return state.EvStimTimeoutEndCalib
		}
		return state.EvStimTimeout
	}

	if cur == state.UINone && c.store.RefreshHz.Load() > 0 {
		return state.EvConnectionSuccessful
	}

	if cur == state.UIPendingTrain && c.store.ConsumeModelJustReady() {
		return state.EvModelReady
	}

	return state.EvNone
}

// HandleEvent runs interceptions, looks up the transition, and applies it.
func (c *Controller) HandleEvent(ev state.UIEvent) {
	from := c.store.UIState()

	switch ev {
	case state.EvAckPopup:
		c.store.SetPopup(state.PopupNone)
		if c.awaitingOverwrite {
			c.awaitingOverwrite = false
			c.overwriteConfirmed = true
			ev = state.EvStartCalibFromOptions
			break
		}
		if c.awaitingHighFreq {
			c.awaitingHighFreq = false
			c.highFreqConfirmed = true
			ev = state.EvStartCalibFromOptions
			break
		}
		return

	case state.EvCancelPopup:
		c.store.SetPopup(state.PopupNone)
		c.awaitingOverwrite = false
		c.awaitingHighFreq = false
		c.overwriteConfirmed = false
		c.highFreqConfirmed = false
		return

	case state.EvStartRun:
		// cannot run without at least one trained calibration
		if from == state.UIHome && c.store.SavedSessionCount() <= 1 {
			c.store.SetPopup(state.PopupMustCalibBeforeRun)
			return
		}

	case state.EvTrainingFailed:
		c.store.SetPopup(state.PopupTrainJobFailed)
	}

	if ev == state.EvStartCalibFromOptions && from == state.UICalibOptions {
		if !c.validateCalibOptions() {
			return
		}
	}

	to, ok := lookupTransition(from, ev)
	if !ok {
		return
	}

	c.onExit(from, ev)
	c.store.SetUIState(to)
	c.store.UISeq.Add(1)
	c.onEnter(from, to)
	log.Printf("stim: %s + %s -> %s", from, ev, to)
}

func lookupTransition(from state.UIState, ev state.UIEvent) (state.UIState, bool) {
	for _, t := range transitionTable {
		if t.from == from && t.event == ev {
			return t.to, true
		}
	}
	return from, false
}

// validateCalibOptions enforces the disclaimer form: epilepsy answer set,
// name of useful length, overwrite and high-frequency confirmations.
// Returns true when the calibration may start.
func (c *Controller) validateCalibOptions() bool {
	name, risk := c.store.PendingCalibOptions()
	name = strings.TrimSpace(name)

	if risk == state.EpilepsyUnknown || len(name) < minSubjectNameLen {
		c.store.SetPopup(state.PopupInvalidCalibOptions)
		return false
	}

	if !c.overwriteConfirmed {
		subj := session.SanitizeSubjectID(name)
		for _, s := range c.store.SnapshotSavedSessions() {
			if s.Subject != "" && s.Subject == subj {
				c.store.SetPopup(state.PopupConfirmOverwrite)
				c.awaitingOverwrite = true
				return false
			}
		}
	}

	if risk == state.EpilepsyHighFreqOk && !c.highFreqConfirmed {
		c.store.SetPopup(state.PopupConfirmHighFreqOk)
		c.awaitingHighFreq = true
		return false
	}

	// calibration starts: remember the form, reset the latches
	c.epilepsy = risk
	c.subjectName = name
	c.overwriteConfirmed = false
	c.highFreqConfirmed = false
	return true
}

func (c *Controller) onExit(from state.UIState, ev state.UIEvent) {
	if from == state.UIActiveCalib || from == state.UIInstructions {
		c.timer.stop()
		if ev == state.EvStimTimeoutEndCalib {
			c.store.FinalizeRequest.Set()
		}
		if ev == state.EvExit {
			session.DeleteSessionDirsIfInProgress(c.sess)
			c.store.ClearSession()
			c.store.IsCalib.Store(false)
			c.haveSession = false
		}
	}
}

func (c *Controller) onEnter(prev, to state.UIState) {
	switch to {
	case state.UIHome:
		c.store.BlockID.Store(0)
		c.store.SetFreq(state.FreqNone)
		c.store.ResetSignalStats()
		c.store.IsCalib.Store(false)
		c.endCalibEmitted = false
		c.haveSession = false

	case state.UIInstructions:
		if !c.haveSession {
			c.beginCalibration()
		}
		c.advancePastInadmissible()
		c.timer.start(restBlockLen)

	case state.UIActiveCalib:
		c.store.BlockID.Add(1)
		if c.queueIdx < len(c.queue) {
			c.store.SetFreq(c.queue[c.queueIdx])
			c.queueIdx++
		}
		c.timer.start(activeBlockLen)

	case state.UIActiveRun:
		c.store.SetFreq(state.FreqNone)
	}
}

// beginCalibration creates the on-disk session and seeds the frequency
// queue for the protocol.
func (c *Controller) beginCalibration() {
	sess, err := session.CreateSession(c.root, c.subjectName, c.cfg.SessionsKeep)
	if err != nil {
		log.Printf("stim: create session failed: %v", err)
		return
	}
	c.sess = sess
	c.haveSession = true

	c.store.SetSession(state.SessionSnapshot{
		SubjectID: sess.SubjectID,
		SessionID: sess.SessionID,
		DataDir:   sess.DataDir,
		ModelDir:  sess.ModelDir,
		Epilepsy:  c.epilepsy,
	})
	c.store.IsCalib.Store(true)
	c.store.ClearPendingCalibOptions()

	if c.epilepsy == state.EpilepsyHighFreqOk {
		c.queue = append([]state.TestFreq(nil), highFreqs...)
	} else {
		c.queue = append([]state.TestFreq(nil), standardFreqs...)
	}
	c.queueIdx = 0
	c.endCalibEmitted = false

	log.Printf("stim: new session subject=%s session=%s", sess.SubjectID, sess.SessionID)
}

// advancePastInadmissible drops queued frequencies that do not divide the
// monitor refresh rate. When the refresh has no divisor in the usable band
// at all, non-divisors are accepted rather than skipping the whole queue.
func (c *Controller) advancePastInadmissible() {
	refresh := int(c.store.RefreshHz.Load())
	if refresh <= 0 || !hasDivisorInRange(refresh, 6, 20) {
		return
	}
	for c.queueIdx < len(c.queue) {
		hz := c.queue[c.queueIdx].Hz()
		if hz > 0 && refresh%hz == 0 {
			return
		}
		log.Printf("stim: dropping %d Hz (not a divisor of %d Hz refresh)", hz, refresh)
		c.queueIdx++
	}
}

func hasDivisorInRange(n, lo, hi int) bool {
	for d := lo; d <= hi; d++ {
		if n%d == 0 {
			return true
		}
	}
	return false
}

// QueueIdx is exported for tests.
func (c *Controller) QueueIdx() int { return c.queueIdx }

// SetQueueForTest installs a frequency queue without a session.
func (c *Controller) SetQueueForTest(q []state.TestFreq, idx int) {
	c.queue = q
	c.queueIdx = idx
}
