package acq

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/bci_runtime/internal/config"
)

// ADS1299 SPI opcodes and registers (TI SBAS499).
const (
	adsCmdWakeup = 0x02
	adsCmdReset  = 0x06
	adsCmdStart  = 0x08
	adsCmdStop   = 0x0A
	adsCmdRDATAC = 0x10
	adsCmdSDATAC = 0x11

	adsRegID      = 0x00
	adsRegConfig1 = 0x01
	adsRegConfig2 = 0x02
	adsRegConfig3 = 0x03
	adsRegCh1Set  = 0x05

	adsIDExpected = 0x3E // ADS1299, 8 channels

	// CONFIG1 0x96: daisy off, clock out off, 250 SPS
	adsConfig1Val = 0x96
	// CONFIG2 0xC0: test signals off
	adsConfig2Val = 0xC0
	// CONFIG3 0xE0: internal reference buffer on
	adsConfig3Val = 0xE0
	// CHnSET 0x60: normal electrode input, gain 24
	adsChSetVal = 0x60

	adsGain   = 24.0
	adsVrefUV = 4.5e6
)

// adsLSBtoUV converts one 24-bit code to microvolts.
const adsLSBtoUV = adsVrefUV / (adsGain * 8388607.0)

// ADS1299 streams scans from a TI ADS1299 analog front end over SPI,
// paced by the DRDY line when one is wired.
type ADS1299 struct {
	spiDevice string
	drdyName  string
	numCh     int
	fs        float64

	port   spi.PortCloser
	conn   spi.Conn
	drdy   gpio.PinIO
	labels []string

	frame []byte // 3 status + numCh*3 per scan
	last  time.Time
}

// NewADS1299 configures (but does not open) the front end.
func NewADS1299(cfg *config.Config) *ADS1299 {
	labels := make([]string, cfg.NumChannels)
	for i := range labels {
		labels[i] = "EEG" + strconv.Itoa(i+1)
	}
	return &ADS1299{
		spiDevice: cfg.SPIDevice,
		drdyName:  cfg.DRDYPin,
		numCh:     cfg.NumChannels,
		fs:        float64(cfg.SampleRateHz),
		labels:    labels,
		frame:     make([]byte, 3+cfg.NumChannels*3),
	}
}

// Init brings up periph, opens the SPI port, resets the chip, verifies the
// device ID, and writes the acquisition configuration.
func (a *ADS1299) Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("ads1299: periph host init: %w", err)
	}

	port, err := spireg.Open(a.spiDevice)
	if err != nil {
		return fmt.Errorf("ads1299: SPI open (%s): %w", a.spiDevice, err)
	}
	a.port = port

	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode1, 8)
	if err != nil {
		port.Close()
		a.port = nil
		return fmt.Errorf("ads1299: SPI connect: %w", err)
	}
	a.conn = conn

	if a.drdyName != "" {
		pin := gpioreg.ByName(a.drdyName)
		if pin == nil {
			return fmt.Errorf("ads1299: DRDY pin %q not found", a.drdyName)
		}
		if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return fmt.Errorf("ads1299: DRDY pin setup: %w", err)
		}
		a.drdy = pin
	} else {
		log.Println("ads1299: no DRDY pin configured, pacing by sample rate")
	}

	if err := a.command(adsCmdReset); err != nil {
		return fmt.Errorf("ads1299: reset: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := a.command(adsCmdSDATAC); err != nil {
		return fmt.Errorf("ads1299: stop continuous mode: %w", err)
	}

	id, err := a.readReg(adsRegID)
	if err != nil {
		return fmt.Errorf("ads1299: read ID: %w", err)
	}
	if id != adsIDExpected {
		return fmt.Errorf("ads1299: unexpected device ID 0x%02X (want 0x%02X)", id, adsIDExpected)
	}
	log.Printf("ads1299: device ID 0x%02X verified", id)

	if err := a.writeReg(adsRegConfig1, adsConfig1Val); err != nil {
		return fmt.Errorf("ads1299: CONFIG1: %w", err)
	}
	if err := a.writeReg(adsRegConfig2, adsConfig2Val); err != nil {
		return fmt.Errorf("ads1299: CONFIG2: %w", err)
	}
	if err := a.writeReg(adsRegConfig3, adsConfig3Val); err != nil {
		return fmt.Errorf("ads1299: CONFIG3: %w", err)
	}
	for ch := 0; ch < a.numCh; ch++ {
		if err := a.writeReg(byte(adsRegCh1Set+ch), adsChSetVal); err != nil {
			return fmt.Errorf("ads1299: CH%dSET: %w", ch+1, err)
		}
	}
	log.Printf("ads1299: configured %d channels, gain %.0f, %.0f SPS", a.numCh, adsGain, a.fs)

	return nil
}

// Start enters read-data-continuous mode and starts conversions.
func (a *ADS1299) Start(testMode bool) error {
	if a.conn == nil {
		return fmt.Errorf("ads1299: not initialized")
	}
	if err := a.command(adsCmdRDATAC); err != nil {
		return fmt.Errorf("ads1299: RDATAC: %w", err)
	}
	if err := a.command(adsCmdStart); err != nil {
		return fmt.Errorf("ads1299: START: %w", err)
	}
	return nil
}

// StopAndClose stops conversions and releases the SPI port.
func (a *ADS1299) StopAndClose() error {
	if a.conn != nil {
		if err := a.command(adsCmdStop); err != nil {
			log.Printf("ads1299: STOP: %v", err)
		}
		if err := a.command(adsCmdSDATAC); err != nil {
			log.Printf("ads1299: SDATAC: %v", err)
		}
	}
	if a.port != nil {
		err := a.port.Close()
		a.port = nil
		a.conn = nil
		return err
	}
	return nil
}

func (a *ADS1299) NumChannels() int        { return a.numCh }
func (a *ADS1299) ChannelLabels() []string { return append([]string(nil), a.labels...) }

// SetActiveStimulusHz is a no-op on real hardware.
func (a *ADS1299) SetActiveStimulusHz(hz float64) {}

// GetData reads numScans conversion frames, waiting on DRDY when wired.
func (a *ADS1299) GetData(numScans int, dest []float32) error {
	if numScans <= 0 {
		return nil
	}
	if a.conn == nil {
		return fmt.Errorf("ads1299: not initialized")
	}

	scanPeriod := time.Duration(float64(time.Second) / a.fs)

	for scan := 0; scan < numScans; scan++ {
		if a.drdy != nil {
			if !a.drdy.WaitForEdge(100 * time.Millisecond) {
				return fmt.Errorf("ads1299: DRDY timeout")
			}
		} else {
			if !a.last.IsZero() {
				if d := scanPeriod - time.Since(a.last); d > 0 {
					time.Sleep(d)
				}
			}
			a.last = time.Now()
		}

		tx := make([]byte, len(a.frame))
		if err := a.conn.Tx(tx, a.frame); err != nil {
			return fmt.Errorf("ads1299: frame read: %w", err)
		}

		for ch := 0; ch < a.numCh; ch++ {
			off := 3 + ch*3
			code := int32(a.frame[off])<<16 | int32(a.frame[off+1])<<8 | int32(a.frame[off+2])
			// sign-extend the 24-bit two's-complement code
			if code&0x800000 != 0 {
				code |= ^int32(0xFFFFFF)
			}
			dest[scan*a.numCh+ch] = float32(float64(code) * adsLSBtoUV)
		}
	}

	return nil
}

func (a *ADS1299) command(op byte) error {
	return a.conn.Tx([]byte{op}, make([]byte, 1))
}

func (a *ADS1299) readReg(reg byte) (byte, error) {
	w := []byte{0x20 | reg, 0x00, 0x00}
	r := make([]byte, 3)
	if err := a.conn.Tx(w, r); err != nil {
		return 0, err
	}
	return r[2], nil
}

func (a *ADS1299) writeReg(reg, val byte) error {
	w := []byte{0x40 | reg, 0x00, val}
	return a.conn.Tx(w, make([]byte, 3))
}
