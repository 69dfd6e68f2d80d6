// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package training launches the external per-subject trainer when the
// consumer finishes finalizing a calibration session, and records the
// outcome in the state store and the saved-session registry.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/session"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

const resultFileName = "train_result.json"

// trainResult is the slice of the trainer's output we look at: the two best
// stimulus frequencies for run mode. Everything else (ONNX references,
// scores) is opaque to the runtime.
type trainResult struct {
	BestFreqLeftHz  int `json:"best_freq_left_hz"`
	BestFreqRightHz int `json:"best_freq_right_hz"`
}

// Coordinator waits on the train-job event slot and runs one training job
// at a time, blocking on the external process.
type Coordinator struct {
	store *state.Store
	cfg   *config.Config
	reg   *session.Registry // may be nil
}

func NewCoordinator(store *state.Store, cfg *config.Config, reg *session.Registry) *Coordinator {
	return &Coordinator{store: store, cfg: cfg, reg: reg}
}

// Run loops on the condition-variable slot until stop.
func (c *Coordinator) Run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("train: FATAL: %v", r)
			c.store.RequestStop()
		}
	}()

	log.Println("train: start")
	for {
		if !c.store.TrainJobRequest.Wait(c.store.Stopped) {
			break
		}
		if err := c.RunJob(); err != nil {
			log.Printf("train: job failed: %v", err)
			c.store.SetModelReady(false)
			c.store.PostEvent(state.EvTrainingFailed)
		}
	}
	log.Println("train: exit")
}

// RunJob snapshots the session, spawns the trainer synchronously, and on
// success publishes the model and appends the saved session.
func (c *Coordinator) RunJob() error {
	snap := c.store.Session()
	settings := c.store.Settings()
	c.store.SetModelReady(false)

	if snap.DataDir == "" || snap.ModelDir == "" || snap.SubjectID == "" || snap.SessionID == "" {
		return fmt.Errorf("incomplete session record (subject=%q session=%q)", snap.SubjectID, snap.SessionID)
	}

	if err := os.MkdirAll(snap.ModelDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	args := []string{
		c.cfg.TrainerScript,
		"--data", snap.DataDir,
		"--model", snap.ModelDir,
		"--subject", snap.SubjectID,
		"--session", snap.SessionID,
		"--arch", settings.TrainArch,
		"--calibsetting", settings.CalibData,
	}
	log.Printf("train: launching %s %v", c.cfg.TrainerPython, args)

	cmd := exec.Command(c.cfg.TrainerPython, args...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		log.Printf("train: trainer output:\n%s", out)
	}
	if err != nil {
		return fmt.Errorf("trainer process: %w", err)
	}

	// success
	saved := c.buildSavedSession(snap)

	c.store.SetModelReady(true)
	c.store.SetModelJustReady()
	idx := c.store.AppendSavedSession(saved)
	c.store.CurrentSessionIdx.Store(int32(idx))

	if c.reg != nil {
		if err := c.reg.Insert(context.Background(), saved); err != nil {
			log.Printf("train: registry insert: %v", err)
		}
	}

	log.Printf("train: model ready for subject=%s session=%s", snap.SubjectID, snap.SessionID)
	return nil
}

// buildSavedSession assembles the list entry, picking the best frequencies
// out of train_result.json on a best-effort basis.
func (c *Coordinator) buildSavedSession(snap state.SessionSnapshot) state.SavedSession {
	now := time.Now()
	saved := state.SavedSession{
		ID:        snap.SubjectID + "_" + snap.SessionID,
		Label:     now.Format("Jan 2, 15:04") + " (" + snap.SubjectID + ")",
		Subject:   snap.SubjectID,
		Session:   snap.SessionID,
		CreatedAt: now.Format(time.RFC3339),
		ModelDir:  snap.ModelDir,
	}

	raw, err := os.ReadFile(filepath.Join(snap.ModelDir, resultFileName))
	if err != nil {
		log.Printf("train: no readable %s: %v", resultFileName, err)
		return saved
	}
	var res trainResult
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Printf("train: %s parse: %v", resultFileName, err)
		return saved
	}

	saved.FreqLeftHz = res.BestFreqLeftHz
	saved.FreqRightHz = res.BestFreqRightHz
	saved.FreqLeftE = state.FreqFromHz(res.BestFreqLeftHz)
	saved.FreqRightE = state.FreqFromHz(res.BestFreqRightHz)
	return saved
}
