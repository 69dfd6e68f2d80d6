package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/state"
	"github.com/relabs-tech/bci_runtime/internal/telemetry"
)

// RunConsole subscribes to the runtime's MQTT topics and prints live signal
// quality and state lines to the terminal.
func RunConsole() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	statsToken := client.Subscribe(cfg.TopicSignalStats, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s state.SignalStats
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: stats unmarshal error: %v", err)
			return
		}
		fmt.Printf("[STATS] wins=%3d  bad(cur)=%5.1f%%  bad(all)=%5.1f%%  rms1=%6.1fuV  kurt1=%6.2f\n",
			s.NumWinInRolling,
			100*s.CurrentBadWinRate,
			100*s.OverallBadWinRate,
			s.Rolling.RMSUV[0],
			s.Rolling.Kurt[0],
		)
	})
	statsToken.Wait()
	if statsToken.Error() != nil {
		return statsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSignalStats)

	stateToken := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.StateSnapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: state unmarshal error: %v", err)
			return
		}
		fmt.Printf("[STATE] seq=%4d  %s  block=%d  freq=%dHz\n",
			s.Seq, s.UIStateName, s.BlockID, s.FreqHz)
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicState)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("console: exiting")
	return nil
}
