// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acq provides the acquisition backends and the producer loop that
// feeds the chunk ring. Backends implement Provider; the concrete provider
// is chosen from configuration at construction time.
package acq

import (
	"fmt"

	"github.com/relabs-tech/bci_runtime/internal/config"
)

// Provider is the acquisition backend contract. GetData fills
// numScans*NumChannels() floats in time-major interleave (microvolts).
type Provider interface {
	Init() error
	Start(testMode bool) error
	StopAndClose() error

	// GetData blocks until numScans scans are available and copies them
	// into dest (len >= numScans*NumChannels()).
	GetData(numScans int, dest []float32) error

	NumChannels() int
	ChannelLabels() []string

	// SetActiveStimulusHz lets synthetic backends drive test signals; real
	// hardware backends may no-op.
	SetActiveStimulusHz(hz float64)
}

// NewProvider builds the backend named by ACQ_BACKEND.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.AcqBackend {
	case "synthetic":
		return NewSynthetic(cfg, DefaultSynthConfigs()), nil
	case "serial":
		return NewSerialProvider(cfg), nil
	case "ads1299":
		return NewADS1299(cfg), nil
	default:
		return nil, fmt.Errorf("unknown acquisition backend %q", cfg.AcqBackend)
	}
}
