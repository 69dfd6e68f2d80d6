// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/bci_runtime/internal/eeg"
)

// Config holds all application configuration values.
type Config struct {
	// Acquisition
	AcqBackend    string // "synthetic", "serial", "ads1299"
	RingCapacity  int    // chunks buffered between producer and consumer
	NumChannels   int
	ScansPerChunk int
	SampleRateHz  int
	UseEEGFilters bool

	// Windowing
	WindowScans int
	HopScans    int

	// Serial backend
	SerialPort     string
	SerialBaudRate int

	// ADS1299 backend
	SPIDevice string
	DRDYPin   string

	// Web server
	HTTPPort int

	// MQTT telemetry (disabled when broker is empty)
	MQTTBroker          string
	MQTTClientIDRuntime string
	MQTTClientIDConsole string
	TopicSignalStats    string
	TopicState          string
	TopicAcq            string

	// Sessions / training
	DataRoot      string // project root holding data/ and models/; "" = walk upward from cwd
	SessionsKeep  int
	TrainerPython string
	TrainerScript string
	TrainArch     string // "cnn" | "svm"
	CalibData     string // "most_recent_only" | "all_sessions"
}

// Default returns the built-in configuration. Every key can be overridden
// from the config file.
func Default() *Config {
	return &Config{
		AcqBackend:    "synthetic",
		RingCapacity:  250,
		NumChannels:   eeg.DefaultNumCh,
		ScansPerChunk: eeg.DefaultNumScans,
		SampleRateHz:  eeg.SampleRateHz,
		UseEEGFilters: true,

		WindowScans: 320,
		HopScans:    40,

		SerialPort:     "/dev/ttyUSB0",
		SerialBaudRate: 921600,

		SPIDevice: "/dev/spidev0.0",
		DRDYPin:   "GPIO25",

		HTTPPort: 7777,

		MQTTClientIDRuntime: "bci-runtime",
		MQTTClientIDConsole: "bci-console",
		TopicSignalStats:    "bci/signal_stats",
		TopicState:          "bci/state",
		TopicAcq:            "bci/acq",

		SessionsKeep:  3,
		TrainerPython: "python3",
		TrainerScript: "model_train/train_svm.py",
		TrainArch:     "svm",
		CalibData:     "most_recent_only",
	}
}

// Package-level singleton, set once by InitGlobal and read with Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file on top of the defaults and returns a
// Config struct.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Acquisition
	case "ACQ_BACKEND":
		switch value {
		case "synthetic", "serial", "ads1299":
			c.AcqBackend = value
		default:
			return fmt.Errorf("ACQ_BACKEND must be synthetic|serial|ads1299, got %q", value)
		}
	case "ACQ_RING_CAPACITY":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ACQ_RING_CAPACITY %q: %w", value, err)
		}
		c.RingCapacity = n
	case "NUM_CHANNELS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid NUM_CHANNELS %q: %w", value, err)
		}
		if n < 1 || n > eeg.MaxChannels {
			return fmt.Errorf("NUM_CHANNELS must be 1-%d, got %d", eeg.MaxChannels, n)
		}
		c.NumChannels = n
	case "SCANS_PER_CHUNK":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SCANS_PER_CHUNK %q: %w", value, err)
		}
		c.ScansPerChunk = n
	case "SAMPLE_RATE_HZ":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_RATE_HZ %q: %w", value, err)
		}
		c.SampleRateHz = n
	case "USE_EEG_FILTERS":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid USE_EEG_FILTERS %q: %w", value, err)
		}
		c.UseEEGFilters = b

	// Windowing
	case "WINDOW_SCANS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WINDOW_SCANS %q: %w", value, err)
		}
		c.WindowScans = n
	case "WINDOW_HOP_SCANS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WINDOW_HOP_SCANS %q: %w", value, err)
		}
		c.HopScans = n

	// Serial backend
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = n

	// ADS1299 backend
	case "SPI_DEVICE":
		c.SPIDevice = value
	case "DRDY_PIN":
		c.DRDYPin = value

	// Web server
	case "HTTP_PORT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid HTTP_PORT %q: %w", value, err)
		}
		c.HTTPPort = n

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_RUNTIME":
		c.MQTTClientIDRuntime = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_SIGNAL_STATS":
		c.TopicSignalStats = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_ACQ":
		c.TopicAcq = value

	// Sessions / training
	case "DATA_ROOT":
		c.DataRoot = value
	case "SESSIONS_KEEP":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SESSIONS_KEEP %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("SESSIONS_KEEP must be >= 1, got %d", n)
		}
		c.SessionsKeep = n
	case "TRAINER_PYTHON":
		c.TrainerPython = value
	case "TRAINER_SCRIPT":
		c.TrainerScript = value
	case "TRAIN_ARCH":
		c.TrainArch = value
	case "CALIB_DATA":
		c.CalibData = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks cross-field consistency.
func (c *Config) validate() error {
	if c.RingCapacity < 1 {
		return fmt.Errorf("ACQ_RING_CAPACITY must be >= 1, got %d", c.RingCapacity)
	}
	if c.ScansPerChunk < 1 {
		return fmt.Errorf("SCANS_PER_CHUNK must be >= 1, got %d", c.ScansPerChunk)
	}
	if c.WindowScans < c.ScansPerChunk {
		return fmt.Errorf("WINDOW_SCANS (%d) must be >= SCANS_PER_CHUNK (%d)", c.WindowScans, c.ScansPerChunk)
	}
	if c.HopScans < 1 || c.HopScans > c.WindowScans {
		return fmt.Errorf("WINDOW_HOP_SCANS (%d) must be in 1..WINDOW_SCANS (%d)", c.HopScans, c.WindowScans)
	}
	if c.SampleRateHz < 1 {
		return fmt.Errorf("SAMPLE_RATE_HZ must be >= 1, got %d", c.SampleRateHz)
	}
	return nil
}

// InitGlobal initializes the global configuration, from file when
// configPath is non-empty, defaults otherwise. Only runs once.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be called
// first, or this returns the defaults.
func Get() *Config {
	configMu.RLock()
	cfg := globalConfig
	configMu.RUnlock()
	if cfg == nil {
		return Default()
	}
	return cfg
}
