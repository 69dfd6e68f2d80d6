// Package telemetry publishes signal-quality and state snapshots to MQTT
// so external dashboards (and cmd/console) can watch the runtime without
// touching the embedded HTTP server.
package telemetry

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

// StateSnapshot is the compact state frame published on the state topic.
type StateSnapshot struct {
	Seq         int32  `json:"seq"`
	UIState     int32  `json:"ui_state"`
	UIStateName string `json:"ui_state_name"`
	BlockID     int32  `json:"block_id"`
	FreqHz      int32  `json:"freq_hz"`
	IsCalib     bool   `json:"is_calib"`
	Popup       int32  `json:"popup"`
}

// AcqHeartbeat reports chunk flow on the acquisition topic.
type AcqHeartbeat struct {
	HasChunk bool    `json:"has_chunk"`
	LastTick uint64  `json:"last_tick"`
	EpochMS  float64 `json:"epoch_ms"`
	NumCh    int32   `json:"num_ch"`
}

// RunPublisher connects to the broker and publishes on a one-second tick
// until stop. A missing broker disables telemetry (logged once at startup).
func RunPublisher(store *state.Store, cfg *config.Config) {
	if cfg.MQTTBroker == "" {
		log.Println("telemetry: no MQTT broker configured, disabled")
		return
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDRuntime)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("telemetry: MQTT connect error: %v", token.Error())
		return
	}
	defer client.Disconnect(250)
	log.Printf("telemetry: connected to MQTT broker at %s", cfg.MQTTBroker)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if store.Stopped() {
			return
		}

		stats := store.SignalStats()
		if payload, err := json.Marshal(stats); err != nil {
			log.Printf("telemetry: stats marshal error: %v", err)
		} else if token := client.Publish(cfg.TopicSignalStats, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("telemetry: publish error (%s): %v", cfg.TopicSignalStats, token.Error())
		}

		snap := StateSnapshot{
			Seq:         store.UISeq.Load(),
			UIState:     int32(store.UIState()),
			UIStateName: store.UIState().String(),
			BlockID:     store.BlockID.Load(),
			FreqHz:      store.FreqHz.Load(),
			IsCalib:     store.IsCalib.Load(),
			Popup:       int32(store.Popup()),
		}
		if payload, err := json.Marshal(snap); err != nil {
			log.Printf("telemetry: state marshal error: %v", err)
		} else if token := client.Publish(cfg.TopicState, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("telemetry: publish error (%s): %v", cfg.TopicState, token.Error())
		}

		last := store.LastChunk()
		hb := AcqHeartbeat{
			HasChunk: store.HasChunk.Load(),
			LastTick: last.Tick,
			EpochMS:  last.EpochMS,
			NumCh:    store.NumChannels.Load(),
		}
		if payload, err := json.Marshal(hb); err != nil {
			log.Printf("telemetry: heartbeat marshal error: %v", err)
		} else {
			client.Publish(cfg.TopicAcq, 0, true, payload)
		}
	}
}
