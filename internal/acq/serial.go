package acq

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/bci_runtime/internal/config"
)

// Serial frame layout: two sync bytes followed by one chunk worth of
// little-endian float32 samples in time-major interleave. The headset's
// bridge firmware emits one frame per 32 scans.
const (
	frameSync0 = 0xA5
	frameSync1 = 0x5A
)

// SerialProvider reads framed EEG chunks from a serial-attached headset
// bridge.
type SerialProvider struct {
	portName string
	baudRate int
	numCh    int

	port   io.ReadWriteCloser
	reader *bufio.Reader
	labels []string
}

// NewSerialProvider configures (but does not open) the port.
func NewSerialProvider(cfg *config.Config) *SerialProvider {
	labels := make([]string, cfg.NumChannels)
	for i := range labels {
		labels[i] = "EEG" + strconv.Itoa(i+1)
	}
	return &SerialProvider{
		portName: cfg.SerialPort,
		baudRate: cfg.SerialBaudRate,
		numCh:    cfg.NumChannels,
		labels:   labels,
	}
}

// Init opens the serial port.
func (p *SerialProvider) Init() error {
	opts := serial.OpenOptions{
		PortName:              p.portName,
		BaudRate:              uint(p.baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", p.portName, err)
	}
	p.port = port
	p.reader = bufio.NewReaderSize(port, 1<<15)
	log.Printf("acq: serial port opened on %s at %d baud", p.portName, p.baudRate)
	return nil
}

// Start is a no-op for the serial bridge; it streams continuously.
func (p *SerialProvider) Start(testMode bool) error {
	if p.port == nil {
		return fmt.Errorf("serial provider not initialized")
	}
	return nil
}

// StopAndClose closes the port.
func (p *SerialProvider) StopAndClose() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	p.reader = nil
	return err
}

func (p *SerialProvider) NumChannels() int        { return p.numCh }
func (p *SerialProvider) ChannelLabels() []string { return append([]string(nil), p.labels...) }

// SetActiveStimulusHz is a no-op on real hardware.
func (p *SerialProvider) SetActiveStimulusHz(hz float64) {}

// GetData locates the next frame sync and reads numScans scans of
// little-endian float32 samples.
func (p *SerialProvider) GetData(numScans int, dest []float32) error {
	if numScans <= 0 {
		return nil
	}
	if p.reader == nil {
		return fmt.Errorf("serial provider not initialized")
	}

	if err := p.syncToFrame(); err != nil {
		return err
	}

	want := numScans * p.numCh
	var raw [4]byte
	for i := 0; i < want; i++ {
		if _, err := io.ReadFull(p.reader, raw[:]); err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
		dest[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[:]))
	}
	return nil
}

// syncToFrame scans the byte stream for the two-byte frame marker,
// resynchronizing after dropped bytes.
func (p *SerialProvider) syncToFrame() error {
	for {
		b, err := p.reader.ReadByte()
		if err != nil {
			return fmt.Errorf("serial sync: %w", err)
		}
		if b != frameSync0 {
			continue
		}
		b, err = p.reader.ReadByte()
		if err != nil {
			return fmt.Errorf("serial sync: %w", err)
		}
		if b == frameSync1 {
			return nil
		}
	}
}
