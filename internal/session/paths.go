// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session lays out on-disk session directories and tracks saved
// calibrations. A session materializes as a data/ and models/ directory
// pair; while acquiring, the directory names carry the in-progress suffix
// and are renamed on finalize.
package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// InProgressSuffix marks a session directory that is still acquiring.
const InProgressSuffix = "__IN_PROGRESS"

// Session identifies one calibration run for one subject.
type Session struct {
	ProjectRoot string
	SubjectID   string
	SessionID   string
	DataDir     string
	ModelDir    string
}

// FindProjectRoot walks parents of the current working directory until a
// directory containing both data/ and models/ is found; falls back to cwd.
func FindProjectRoot(maxDepth int) string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	p := cwd
	for i := 0; i < maxDepth; i++ {
		if isDir(filepath.Join(p, "data")) && isDir(filepath.Join(p, "models")) {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return cwd
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SanitizeSubjectID trims whitespace and replaces any character outside
// [A-Za-z0-9_-] with underscore.
func SanitizeSubjectID(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func containsAlpha(s string) bool {
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return true
		}
	}
	return false
}

// AllocatePersonFallback mints person1, person2, ... persisting the counter
// in <dataRoot>/.next_person_id.
func AllocatePersonFallback(dataRoot string) (string, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return "", fmt.Errorf("create data root: %w", err)
	}

	counterPath := filepath.Join(dataRoot, ".next_person_id")

	nextID := 1
	if raw, err := os.ReadFile(counterPath); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && n >= 1 {
			nextID = n
		}
	}

	// Best effort: still return personN when the write fails, it just
	// won't persist.
	if err := os.WriteFile(counterPath, []byte(strconv.Itoa(nextID+1)+"\n"), 0o644); err != nil {
		log.Printf("session: could not persist person counter: %v", err)
	}

	return "person" + strconv.Itoa(nextID), nil
}

// MakeSessionIDTimestamp formats a session id from local time.
func MakeSessionIDTimestamp(t time.Time) string {
	return t.Format("2006-01-02_15-04-05")
}

// IsInProgressSessionID reports whether the id carries the suffix.
func IsInProgressSessionID(s string) bool {
	return strings.HasSuffix(s, InProgressSuffix)
}

// StripInProgressSuffix removes the suffix if present.
func StripInProgressSuffix(s string) string {
	return strings.TrimSuffix(s, InProgressSuffix)
}

// WithInProgressSuffix appends the suffix if absent.
func WithInProgressSuffix(s string) string {
	if IsInProgressSessionID(s) {
		return s
	}
	return s + InProgressSuffix
}

// CreateSession computes subject and session ids, creates the suffixed
// data/ and models/ session directories under root, and prunes older
// sessions for the subject (keeping keepN in each tree).
//
// preferredName "" or a name with no alphabetic character falls back to the
// personN counter.
func CreateSession(root, preferredName string, keepN int) (Session, error) {
	dataRoot := filepath.Join(root, "data")
	modelsRoot := filepath.Join(root, "models")

	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return Session{}, fmt.Errorf("create %s: %w", dataRoot, err)
	}
	if err := os.MkdirAll(modelsRoot, 0o755); err != nil {
		return Session{}, fmt.Errorf("create %s: %w", modelsRoot, err)
	}

	preferred := strings.TrimSpace(preferredName)
	var subj string
	if preferred == "" {
		var err error
		subj, err = AllocatePersonFallback(dataRoot)
		if err != nil {
			return Session{}, err
		}
	} else {
		subj = SanitizeSubjectID(preferred)
		if !containsAlpha(subj) {
			var err error
			subj, err = AllocatePersonFallback(dataRoot)
			if err != nil {
				return Session{}, err
			}
		}
	}

	sessionID := WithInProgressSuffix(MakeSessionIDTimestamp(time.Now()))

	s := Session{
		ProjectRoot: root,
		SubjectID:   subj,
		SessionID:   sessionID,
		DataDir:     filepath.Join(dataRoot, subj, sessionID),
		ModelDir:    filepath.Join(modelsRoot, subj, sessionID),
	}

	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create session data dir: %w", err)
	}
	if err := os.MkdirAll(s.ModelDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create session model dir: %w", err)
	}

	PruneOldSessions(filepath.Join(dataRoot, subj), keepN)
	PruneOldSessions(filepath.Join(modelsRoot, subj), keepN)

	return s, nil
}

// PruneOldSessions removes all session directories under subjectDir except
// the keepN most recently modified.
func PruneOldSessions(subjectDir string, keepN int) {
	entries, err := os.ReadDir(subjectDir)
	if err != nil {
		return
	}

	type dirEntry struct {
		path string
		mod  time.Time
	}

	var sessions []dirEntry
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		info, err := de.Info()
		mod := time.Time{}
		if err == nil {
			mod = info.ModTime()
		}
		sessions = append(sessions, dirEntry{filepath.Join(subjectDir, de.Name()), mod})
	}

	if len(sessions) <= keepN {
		return
	}

	// newest first
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].mod.After(sessions[j].mod) })

	for _, s := range sessions[keepN:] {
		log.Printf("session: pruning old session dir %s", s.path)
		if err := os.RemoveAll(s.path); err != nil {
			log.Printf("session: error removing %s: %v", s.path, err)
		}
	}
}

// DeleteSessionDirsIfInProgress removes both directories when the session
// is still suffixed (user aborted mid-calibration); no-op otherwise.
func DeleteSessionDirsIfInProgress(s Session) {
	if !IsInProgressSessionID(s.SessionID) {
		return
	}
	for _, dir := range []string{s.DataDir, s.ModelDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("session: error removing in-progress dir %s: %v", dir, err)
		}
	}
}

// FinalizeSessionDirs renames the suffixed directories to their final names
// and returns the updated session. A rename that fails because the source
// vanished is logged, not fatal.
func FinalizeSessionDirs(s Session) (Session, error) {
	if !IsInProgressSessionID(s.SessionID) {
		return s, nil
	}

	final := s
	final.SessionID = StripInProgressSuffix(s.SessionID)
	final.DataDir = filepath.Join(filepath.Dir(s.DataDir), final.SessionID)
	final.ModelDir = filepath.Join(filepath.Dir(s.ModelDir), final.SessionID)

	if err := os.Rename(s.DataDir, final.DataDir); err != nil {
		if os.IsNotExist(err) {
			log.Printf("session: finalize rename, data dir already gone: %v", err)
		} else {
			return s, fmt.Errorf("finalize data dir: %w", err)
		}
	}
	if err := os.Rename(s.ModelDir, final.ModelDir); err != nil {
		if os.IsNotExist(err) {
			log.Printf("session: finalize rename, model dir already gone: %v", err)
		} else {
			return s, fmt.Errorf("finalize model dir: %w", err)
		}
	}

	return final, nil
}
