// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web is the embedded HTTP server the browser UI talks to: it
// serves state snapshots, accepts event POSTs, and streams live frames over
// a websocket.
package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // same-host browser UI; no cross-origin concerns
	},
}

// actionEvents maps POST /event action strings onto UI events.
var actionEvents = map[string]state.UIEvent{
	"start_calib":              state.EvStartCalib,
	"start_calib_from_options": state.EvStartCalibFromOptions,
	"start_run":                state.EvStartRun,
	"start_default":            state.EvStartDefault,
	"show_sessions":            state.EvShowSessions,
	"select_session":           state.EvSelectSession,
	"new_session":              state.EvSelectNewSession,
	"exit":                     state.EvExit,
	"ack_popup":                state.EvAckPopup,
	"cancel_popup":             state.EvCancelPopup,
	"hardware_checks":          state.EvHardwareChecks,
	"settings":                 state.EvSettings,
}

// Server owns the HTTP listener. It only reads the store, except for the
// event slot, refresh rate, pending calib options, settings, and the
// selected session index, which exist to be written by the client.
type Server struct {
	store *state.Store
	srv   *http.Server
}

// stateSnapshot is the GET /state payload.
type stateSnapshot struct {
	Seq             int32                `json:"seq"`
	UIState         int32                `json:"ui_state"`
	BlockID         int32                `json:"block_id"`
	FreqHz          int32                `json:"freq_hz"`
	FreqHzE         int32                `json:"freq_hz_e"`
	RefreshHz       int32                `json:"refresh_hz"`
	Popup           int32                `json:"popup"`
	IsCalib         bool                 `json:"is_calib"`
	IsModelReady    bool                 `json:"is_model_ready"`
	ActiveSubjectID string               `json:"active_subject_id"`
	ActiveSessionID string               `json:"active_session_id"`
	NumChannels     int32                `json:"n_channels"`
	ChannelLabels   []string             `json:"channel_labels"`
	CurrentSession  int32                `json:"current_session_idx"`
	SavedSessions   []state.SavedSession `json:"saved_sessions"`
	SignalStats     state.SignalStats    `json:"signal_stats"`
	Settings        state.Settings       `json:"settings"`
}

// NewServer builds the server on the configured port.
func NewServer(store *state.Store, cfg *config.Config) *Server {
	s := &Server{store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/eeg", s.handleEEG)
	mux.HandleFunc("/quality", s.handleQuality)
	mux.HandleFunc("/event", s.handleEvent)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/calib_options", s.handleCalibOptions)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/live", s.handleLive)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: cors(mux),
	}
	return s
}

// Start launches the listener on its own goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("http: listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: server error: %v", err)
		}
	}()
}

// Close shuts the listener down.
func (s *Server) Close() {
	if err := s.srv.Close(); err != nil {
		log.Printf("http: close: %v", err)
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: json encode error: %v", err)
	}
}

func (s *Server) snapshot() stateSnapshot {
	sess := s.store.Session()
	return stateSnapshot{
		Seq:             s.store.UISeq.Load(),
		UIState:         int32(s.store.UIState()),
		BlockID:         s.store.BlockID.Load(),
		FreqHz:          s.store.FreqHz.Load(),
		FreqHzE:         int32(s.store.Freq()),
		RefreshHz:       s.store.RefreshHz.Load(),
		Popup:           int32(s.store.Popup()),
		IsCalib:         s.store.IsCalib.Load(),
		IsModelReady:    sess.ModelReady,
		ActiveSubjectID: sess.SubjectID,
		ActiveSessionID: sess.SessionID,
		NumChannels:     s.store.NumChannels.Load(),
		ChannelLabels:   s.store.ChannelLabels(),
		CurrentSession:  s.store.CurrentSessionIdx.Load(),
		SavedSessions:   s.store.SnapshotSavedSessions(),
		SignalStats:     s.store.SignalStats(),
		Settings:        s.store.Settings(),
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

// handleEEG returns the last chunk as per-channel sample arrays for the
// live signal view.
func (s *Server) handleEEG(w http.ResponseWriter, r *http.Request) {
	if !s.store.HasChunk.Load() {
		writeJSON(w, map[string]any{"ok": false, "msg": "no eeg yet"})
		return
	}

	chunk := s.store.LastChunk()
	channels := make([][]float32, chunk.NumCh)
	for ch := 0; ch < chunk.NumCh; ch++ {
		channels[ch] = make([]float32, chunk.NumScans)
		for scan := 0; scan < chunk.NumScans; scan++ {
			channels[ch][scan] = chunk.Sample(scan, ch)
		}
	}
	writeJSON(w, map[string]any{"ok": true, "tick": chunk.Tick, "channels": channels})
}

// handleQuality reports a per-channel good/bad verdict from the rolling
// stats: a channel is usable when its rolling RMS is inside a sane band.
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	stats := s.store.SignalStats()
	n := int(s.store.NumChannels.Load())
	quality := make([]int, n)
	if stats.NumWinInRolling > 0 {
		for ch := 0; ch < n; ch++ {
			rms := stats.Rolling.RMSUV[ch]
			if rms > 2.0 && rms < 80.0 {
				quality[ch] = 1
			}
		}
	}
	writeJSON(w, map[string]any{"quality": quality})
}

type eventBody struct {
	Action     string `json:"action"`
	SessionIdx *int   `json:"session_idx,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var body eventBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]any{"ok": false, "error": "bad json"})
		return
	}

	ev, ok := actionEvents[body.Action]
	if !ok {
		writeJSON(w, map[string]any{"ok": false, "error": "unknown action"})
		return
	}

	// a session selection carries the chosen index alongside the event
	if ev == state.EvSelectSession && body.SessionIdx != nil {
		s.store.CurrentSessionIdx.Store(int32(*body.SessionIdx))
	}

	s.store.PostEvent(ev)
	writeJSON(w, map[string]any{"ok": true})
}

type readyBody struct {
	RefreshHz int `json:"refresh_hz"`
}

// handleReady records the monitor refresh rate; its arrival is what flips
// the controller out of the None state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var body readyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshHz <= 0 {
		writeJSON(w, map[string]any{"ok": false, "error": "bad refresh_hz"})
		return
	}

	s.store.RefreshHz.Store(int32(body.RefreshHz))
	log.Printf("http: client ready, refresh=%d Hz", body.RefreshHz)
	writeJSON(w, map[string]any{"ok": true})
}

type calibOptionsBody struct {
	SubjectName  string `json:"subject_name"`
	EpilepsyRisk int    `json:"epilepsy_risk"`
}

func (s *Server) handleCalibOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var body calibOptionsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]any{"ok": false, "error": "bad json"})
		return
	}

	s.store.SetPendingCalibOptions(body.SubjectName, state.EpilepsyRisk(body.EpilepsyRisk))
	writeJSON(w, map[string]any{"ok": true})
}

type settingsBody struct {
	TrainArch string `json:"train_arch"`
	CalibData string `json:"calib_data"`
}

// handleSettings updates the training knobs from the settings screen. The
// values are free-form strings passed through to the trainer.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]any{"ok": false, "error": "bad json"})
		return
	}

	cur := s.store.Settings()
	if body.TrainArch != "" {
		cur.TrainArch = body.TrainArch
	}
	if body.CalibData != "" {
		cur.CalibData = body.CalibData
	}
	s.store.SetSettings(cur)
	writeJSON(w, map[string]any{"ok": true})
}

// liveFrame is one websocket push: the state snapshot plus the latest chunk
// tick so the client can detect a stalled stream.
type liveFrame struct {
	State stateSnapshot `json:"state"`
	Tick  uint64        `json:"tick"`
}

// handleLive upgrades to a websocket and pushes frames at 10 Hz until the
// client goes away or the runtime stops.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("http: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if s.store.Stopped() {
			return
		}
		frame := liveFrame{State: s.snapshot(), Tick: s.store.LastChunk().Tick}
		if err := conn.WriteJSON(frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("http: websocket error: %v", err)
			}
			return
		}
	}
}
