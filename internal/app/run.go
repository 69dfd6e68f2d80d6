// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires the long-lived workers together; cmd binaries are thin
// wrappers over its Run entry points.
package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/acq"
	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/filter"
	"github.com/relabs-tech/bci_runtime/internal/quality"
	"github.com/relabs-tech/bci_runtime/internal/ring"
	"github.com/relabs-tech/bci_runtime/internal/session"
	"github.com/relabs-tech/bci_runtime/internal/state"
	"github.com/relabs-tech/bci_runtime/internal/stimulus"
	"github.com/relabs-tech/bci_runtime/internal/telemetry"
	"github.com/relabs-tech/bci_runtime/internal/training"
	"github.com/relabs-tech/bci_runtime/internal/web"
	"github.com/relabs-tech/bci_runtime/internal/window"
)

// RunBCI starts the full runtime: acquisition producer, windowing consumer,
// stimulus controller, training coordinator, HTTP server, and MQTT
// telemetry, then blocks until Ctrl-C or a fatal worker error.
func RunBCI() error {
	cfg := config.Get()

	root := cfg.DataRoot
	if root == "" {
		root = session.FindProjectRoot(6)
	}
	log.Printf("bci: project root %s", root)

	store := state.New(cfg.NumChannels)
	rb := ring.New(cfg.RingCapacity)

	// Saved-session registry: sessions trained in earlier runs come back on
	// the sessions screen.
	var reg *session.Registry
	if r, err := session.OpenRegistry(filepath.Join(root, "models", "sessions.db")); err != nil {
		log.Printf("bci: session registry unavailable: %v", err)
	} else {
		reg = r
		defer reg.Close()
		if saved, err := reg.List(context.Background()); err != nil {
			log.Printf("bci: session registry list: %v", err)
		} else if len(saved) > 0 {
			store.SeedSavedSessions(saved)
			log.Printf("bci: loaded %d saved session(s)", len(saved))
		}
	}

	provider, err := acq.NewProvider(cfg)
	if err != nil {
		return err
	}

	var bank *filter.Bank
	if cfg.UseEEGFilters {
		bank = filter.NewBank(cfg.NumChannels, cfg.SampleRateHz)
	}

	analyzer := quality.New(store, cfg.NumChannels, cfg.WindowScans, cfg.HopScans, cfg.SampleRateHz)
	consumer := window.NewConsumer(store, rb, analyzer, cfg, root)
	controller := stimulus.NewController(store, cfg, root)
	coordinator := training.NewCoordinator(store, cfg, reg)

	srv := web.NewServer(store, cfg)
	srv.Start()

	go telemetry.RunPublisher(store, cfg)

	testMode := cfg.AcqBackend == "synthetic"

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); acq.RunProducer(store, rb, provider, bank, cfg, testMode) }()
	go func() { defer wg.Done(); consumer.Run() }()
	go func() { defer wg.Done(); controller.Run() }()
	go func() { defer wg.Done(); coordinator.Run() }()

	// Ctrl-C handling: poll the stop flag so a fatal worker also brings the
	// process down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for !store.Stopped() {
		select {
		case sig := <-sigCh:
			log.Printf("bci: received %v, shutting down", sig)
			store.RequestStop()
		case <-time.After(30 * time.Millisecond):
		}
	}

	store.RequestStop()
	rb.Close()
	srv.Close()
	wg.Wait()

	log.Println("bci: all workers joined, bye")
	return nil
}
