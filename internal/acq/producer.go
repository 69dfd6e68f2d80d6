package acq

import (
	"log"
	"strconv"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/eeg"
	"github.com/relabs-tech/bci_runtime/internal/filter"
	"github.com/relabs-tech/bci_runtime/internal/ring"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

// maxConsecutiveReadFailures is the transient-I/O retry budget before the
// producer gives up and tears the pipeline down.
const maxConsecutiveReadFailures = 3

// RunProducer pulls fixed-size chunks from the provider, optionally runs
// the filter bank, publishes the last chunk for the UI, and pushes into the
// ring. It owns the ring's lifetime: on any exit path the ring is closed so
// the consumer terminates too.
func RunProducer(store *state.Store, rb *ring.Ring, provider Provider, bank *filter.Bank, cfg *config.Config, testMode bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("producer: FATAL: %v", r)
			rb.Close()
			store.RequestStop()
		}
	}()

	log.Println("producer: start")

	if err := provider.Init(); err != nil {
		log.Printf("producer: provider init failed: %v", err)
		rb.Close()
		return
	}
	if err := provider.Start(testMode); err != nil {
		log.Printf("producer: provider start failed: %v", err)
		provider.StopAndClose()
		rb.Close()
		return
	}

	// Channel configuration from the device, clamped defensively.
	numCh := provider.NumChannels()
	if numCh <= 0 || numCh > eeg.MaxChannels {
		numCh = cfg.NumChannels
	}
	store.NumChannels.Store(int32(numCh))

	labels := provider.ChannelLabels()
	for i := len(labels); i < numCh; i++ {
		labels = append(labels, "Ch"+strconv.Itoa(i+1))
	}
	store.SetChannelLabels(labels[:numCh])

	var tick uint64
	failures := 0

	for !store.Stopped() {
		// Synthetic backends track the flickering stimulus; hardware no-ops.
		provider.SetActiveStimulusHz(float64(store.FreqHz.Load()))

		chunk := eeg.NewChunk(numCh, cfg.ScansPerChunk)
		if err := provider.GetData(cfg.ScansPerChunk, chunk.Data); err != nil {
			failures++
			log.Printf("producer: get_data failed (%d/%d): %v", failures, maxConsecutiveReadFailures, err)
			if failures >= maxConsecutiveReadFailures {
				log.Println("producer: too many consecutive read failures, stopping")
				break
			}
			continue
		}
		failures = 0

		tick++
		chunk.Tick = tick
		chunk.EpochMS = float64(time.Now().UnixMilli())

		if bank != nil {
			bank.ProcessChunk(&chunk)
		}

		store.SetLastChunk(chunk)

		if err := rb.Push(chunk); err != nil {
			log.Println("producer: ring closed while pushing, stopping")
			break
		}
	}

	log.Println("producer: shutting down acquisition backend")
	if err := provider.StopAndClose(); err != nil {
		log.Printf("producer: stop_and_close: %v", err)
	}
	rb.Close()
}
