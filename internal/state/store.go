// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package state holds the single shared StateStore that glues the
// acquisition, windowing, stimulus, training, and transport goroutines
// together. Single-field snapshots are atomics; compound records sit behind
// per-field mutexes; the two cross-goroutine handshakes (finalize, train-job)
// are condition-variable event slots.
package state

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/bci_runtime/internal/eeg"
)

// EventSlot is the (mutex, cond, bool) handshake pattern: the producer flips
// the flag under the mutex and signals; the consumer waits on
// flag||stopped and consumes the flag while still holding the mutex, so
// signals are never lost to spurious wakeups.
type EventSlot struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requested bool
}

func NewEventSlot() *EventSlot {
	s := &EventSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Set raises the flag and wakes one waiter.
func (s *EventSlot) Set() {
	s.mu.Lock()
	s.requested = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Wait blocks until the flag is raised or stopped() turns true. It consumes
// the flag and reports whether a request (rather than a stop) woke it.
func (s *EventSlot) Wait(stopped func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.requested && !stopped() {
		s.cond.Wait()
	}
	if s.requested {
		s.requested = false
		return true
	}
	return false
}

// TryConsume consumes the flag without blocking.
func (s *EventSlot) TryConsume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requested {
		return false
	}
	s.requested = false
	return true
}

// Wake releases waiters so they can re-check their stop predicate.
func (s *EventSlot) Wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// ChannelStats carries one per-channel figure set: either a single window's
// statistics or rolling averages, depending on context.
type ChannelStats struct {
	MeanUV    [eeg.MaxChannels]float32 `json:"mean_uv"`
	StdUV     [eeg.MaxChannels]float32 `json:"std_uv"`
	RMSUV     [eeg.MaxChannels]float32 `json:"rms_uv"`
	MaxAbsUV  [eeg.MaxChannels]float32 `json:"max_abs_uv"`
	MaxStepUV [eeg.MaxChannels]float32 `json:"max_step_uv"`
	Kurt      [eeg.MaxChannels]float32 `json:"kurt"`
	Entropy   [eeg.MaxChannels]float32 `json:"entropy"`
}

// SignalStats is the rolling signal-quality summary published for the UI.
type SignalStats struct {
	NumWinInRolling   int          `json:"num_win_in_rolling"`
	Rolling           ChannelStats `json:"rolling"`
	CurrentBadWinRate float32      `json:"current_bad_win_rate"`
	OverallBadWinRate float32      `json:"overall_bad_win_rate"`
}

// SavedSession is one entry of the saved-sessions list shown on the
// sessions screen. Appended on training success, never mutated in place.
type SavedSession struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Subject   string `json:"subject"`
	Session   string `json:"session"`
	CreatedAt string `json:"created_at"`
	ModelDir  string `json:"model_dir"`

	FreqLeftE   TestFreq `json:"freq_left_hz_e"`
	FreqRightE  TestFreq `json:"freq_right_hz_e"`
	FreqLeftHz  int      `json:"freq_left_hz"`
	FreqRightHz int      `json:"freq_right_hz"`
}

// DefaultSavedSession is the placeholder entry present before any
// calibration has been trained.
func DefaultSavedSession() SavedSession {
	return SavedSession{ID: "default", Label: "Default"}
}

// SessionSnapshot is a consistent copy of the current-session record.
type SessionSnapshot struct {
	SubjectID  string
	SessionID  string
	DataDir    string
	ModelDir   string
	Epilepsy   EpilepsyRisk
	ModelReady bool
}

// Settings are the free-form training knobs passed through to the trainer.
type Settings struct {
	TrainArch string `json:"train_arch"` // "cnn", "svm", ...
	CalibData string `json:"calib_data"` // "most_recent_only" | "all_sessions"
}

// Store is the process-wide shared state. One instance is created by the
// app and passed by pointer to every worker; none of its fields are global.
type Store struct {
	// ---- atomics (single-field snapshots) ----
	NumChannels       atomic.Int32
	IsCalib           atomic.Bool
	uiState           atomic.Int32
	UISeq             atomic.Int32
	BlockID           atomic.Int32
	freqE             atomic.Int32
	FreqHz            atomic.Int32
	RefreshHz         atomic.Int32
	uiEvent           atomic.Int32
	uiPopup           atomic.Int32
	HasChunk          atomic.Bool
	CurrentSessionIdx atomic.Int32

	settings atomic.Pointer[Settings]

	// stop is the process-wide "please stop" flag (Ctrl-C, fatal worker).
	stop atomic.Bool

	// ---- mutex-guarded records ----
	labelsMu      sync.Mutex
	channelLabels []string

	lastChunkMu sync.Mutex
	lastChunk   eeg.Chunk

	statsMu     sync.Mutex
	signalStats SignalStats

	calibOptsMu        sync.Mutex
	pendingSubjectName string
	pendingEpilepsy    EpilepsyRisk

	sessionMu  sync.Mutex
	session    SessionSnapshot
	modelReady atomic.Bool

	savedMu sync.Mutex
	saved   []SavedSession

	// ---- event slots ----
	FinalizeRequest *EventSlot // stim -> consumer
	TrainJobRequest *EventSlot // consumer -> trainer

	modelJustReadyMu sync.Mutex
	modelJustReady   bool
}

// New builds a Store with default channel labels and the default saved
// session entry.
func New(numCh int) *Store {
	s := &Store{
		FinalizeRequest: NewEventSlot(),
		TrainJobRequest: NewEventSlot(),
	}
	s.NumChannels.Store(int32(numCh))
	s.uiState.Store(int32(UINone))
	s.saved = []SavedSession{DefaultSavedSession()}
	labels := make([]string, numCh)
	for i := range labels {
		labels[i] = "Ch" + strconv.Itoa(i+1)
	}
	s.channelLabels = labels
	s.settings.Store(&Settings{TrainArch: "svm", CalibData: "most_recent_only"})
	return s
}

// ---- stop flag ----

// Stopped reports whether shutdown has been requested.
func (s *Store) Stopped() bool { return s.stop.Load() }

// RequestStop raises the stop flag and wakes both event slots so blocked
// waiters re-check their predicates.
func (s *Store) RequestStop() {
	s.stop.Store(true)
	s.FinalizeRequest.Wake()
	s.TrainJobRequest.Wake()
}

// ---- typed atomic accessors ----

func (s *Store) UIState() UIState     { return UIState(s.uiState.Load()) }
func (s *Store) SetUIState(v UIState) { s.uiState.Store(int32(v)) }
func (s *Store) Freq() TestFreq       { return TestFreq(s.freqE.Load()) }
func (s *Store) SetFreq(v TestFreq) {
	s.freqE.Store(int32(v))
	s.FreqHz.Store(int32(v.Hz()))
}
func (s *Store) Popup() UIPopup     { return UIPopup(s.uiPopup.Load()) }
func (s *Store) SetPopup(v UIPopup) { s.uiPopup.Store(int32(v)) }

// PostEvent publishes an external UI event into the atomic slot. The last
// writer wins; the controller consumes with ConsumeEvent.
func (s *Store) PostEvent(e UIEvent) { s.uiEvent.Store(int32(e)) }

// ConsumeEvent exchanges the slot with None and returns what was there.
func (s *Store) ConsumeEvent() UIEvent { return UIEvent(s.uiEvent.Swap(int32(EvNone))) }

func (s *Store) Settings() Settings     { return *s.settings.Load() }
func (s *Store) SetSettings(v Settings) { s.settings.Store(&v) }

// ---- channel labels ----

func (s *Store) SetChannelLabels(labels []string) {
	s.labelsMu.Lock()
	s.channelLabels = append([]string(nil), labels...)
	s.labelsMu.Unlock()
}

func (s *Store) ChannelLabels() []string {
	s.labelsMu.Lock()
	defer s.labelsMu.Unlock()
	return append([]string(nil), s.channelLabels...)
}

// ---- last chunk ----

// SetLastChunk publishes the most recent chunk for UI visualization.
// Written only by the acquisition goroutine.
func (s *Store) SetLastChunk(c eeg.Chunk) {
	s.lastChunkMu.Lock()
	s.lastChunk = c
	s.lastChunkMu.Unlock()
	s.HasChunk.Store(true)
}

// LastChunk returns a copy of the most recent chunk.
func (s *Store) LastChunk() eeg.Chunk {
	s.lastChunkMu.Lock()
	defer s.lastChunkMu.Unlock()
	return s.lastChunk.Clone()
}

// ---- signal stats ----

func (s *Store) SetSignalStats(v SignalStats) {
	s.statsMu.Lock()
	s.signalStats = v
	s.statsMu.Unlock()
}

func (s *Store) SignalStats() SignalStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.signalStats
}

// ResetSignalStats clears the published summary (entering Home).
func (s *Store) ResetSignalStats() {
	s.statsMu.Lock()
	s.signalStats = SignalStats{}
	s.statsMu.Unlock()
}

// ---- pending calibration options form ----

func (s *Store) SetPendingCalibOptions(name string, risk EpilepsyRisk) {
	s.calibOptsMu.Lock()
	s.pendingSubjectName = name
	s.pendingEpilepsy = risk
	s.calibOptsMu.Unlock()
}

func (s *Store) PendingCalibOptions() (string, EpilepsyRisk) {
	s.calibOptsMu.Lock()
	defer s.calibOptsMu.Unlock()
	return s.pendingSubjectName, s.pendingEpilepsy
}

func (s *Store) ClearPendingCalibOptions() {
	s.calibOptsMu.Lock()
	s.pendingSubjectName = ""
	s.pendingEpilepsy = EpilepsyUnknown
	s.calibOptsMu.Unlock()
}

// ---- current session ----

// SetSession replaces the current-session record.
func (s *Store) SetSession(snap SessionSnapshot) {
	s.sessionMu.Lock()
	s.session = snap
	s.sessionMu.Unlock()
	s.modelReady.Store(snap.ModelReady)
}

// Session returns a consistent copy of the current-session record.
func (s *Store) Session() SessionSnapshot {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	snap := s.session
	snap.ModelReady = s.modelReady.Load()
	return snap
}

// UpdateSessionDirs republishes the data/model paths and session id after a
// finalize rename.
func (s *Store) UpdateSessionDirs(sessionID, dataDir, modelDir string) {
	s.sessionMu.Lock()
	s.session.SessionID = sessionID
	s.session.DataDir = dataDir
	s.session.ModelDir = modelDir
	s.sessionMu.Unlock()
}

// ClearSession empties the current-session record (user aborted calibration).
func (s *Store) ClearSession() {
	s.sessionMu.Lock()
	s.session = SessionSnapshot{}
	s.sessionMu.Unlock()
	s.modelReady.Store(false)
}

func (s *Store) ModelReady() bool     { return s.modelReady.Load() }
func (s *Store) SetModelReady(v bool) { s.modelReady.Store(v) }

// ---- saved sessions ----

// SnapshotSavedSessions copies the list for HTTP /state.
func (s *Store) SnapshotSavedSessions() []SavedSession {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	return append([]SavedSession(nil), s.saved...)
}

// AppendSavedSession appends one entry and returns its index.
func (s *Store) AppendSavedSession(sess SavedSession) int {
	s.savedMu.Lock()
	s.saved = append(s.saved, sess)
	idx := len(s.saved) - 1
	s.savedMu.Unlock()
	return idx
}

// SavedSessionCount returns the list length (including the default entry).
func (s *Store) SavedSessionCount() int {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	return len(s.saved)
}

// SavedSessionAt returns the entry at idx, or false when out of range.
func (s *Store) SavedSessionAt(idx int) (SavedSession, bool) {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	if idx < 0 || idx >= len(s.saved) {
		return SavedSession{}, false
	}
	return s.saved[idx], true
}

// SeedSavedSessions installs entries loaded from the on-disk registry after
// the default entry. Called once at startup before workers run.
func (s *Store) SeedSavedSessions(list []SavedSession) {
	s.savedMu.Lock()
	s.saved = append([]SavedSession{DefaultSavedSession()}, list...)
	s.savedMu.Unlock()
}

// ---- model-just-ready slot (polled by the stim controller) ----

func (s *Store) SetModelJustReady() {
	s.modelJustReadyMu.Lock()
	s.modelJustReady = true
	s.modelJustReadyMu.Unlock()
}

// ConsumeModelJustReady reads-and-clears the flag.
func (s *Store) ConsumeModelJustReady() bool {
	s.modelJustReadyMu.Lock()
	defer s.modelJustReadyMu.Unlock()
	v := s.modelJustReady
	s.modelJustReady = false
	return v
}
