package window

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/relabs-tech/bci_runtime/internal/state"
)

const windowsCSVName = "eeg_windows.csv"

// windowLogger writes one CSV row per scan per emitted window. It rebinds
// transparently when the session directory changes: the consumer compares
// the bound directory on every write and the logger closes and reopens the
// file on the new path.
type windowLogger struct {
	numCh    int
	boundDir string
	file     *os.File
	w        *csv.Writer
	rows     int
	record   []string
}

func newWindowLogger(numCh int) *windowLogger {
	return &windowLogger{
		numCh:  numCh,
		record: make([]string, 5+numCh+2),
	}
}

// ensureOpen opens (or reopens) the CSV under dir. Returns false when the
// file cannot be opened; the window is then skipped, not fatal.
func (l *windowLogger) ensureOpen(dir string) bool {
	if l.file != nil && l.boundDir == dir {
		return true
	}
	l.Close()

	path := filepath.Join(dir, windowsCSVName)
	f, err := os.Create(path)
	if err != nil {
		log.Printf("consumer: failed to open %s: %v", path, err)
		return false
	}
	l.file = f
	l.w = csv.NewWriter(f)
	l.boundDir = dir
	l.rows = 0

	header := []string{"window_idx", "ui_state", "is_trimmed", "is_bad", "sample_idx"}
	for ch := 0; ch < l.numCh; ch++ {
		header = append(header, fmt.Sprintf("eeg%d", ch+1))
	}
	header = append(header, "testfreq_e", "testfreq_hz")
	if err := l.w.Write(header); err != nil {
		log.Printf("consumer: csv header write: %v", err)
	}
	log.Printf("consumer: opened %s", path)
	return true
}

// logWindow writes one row per scan of the interleaved buffer.
func (l *windowLogger) logWindow(buf []float32, windowIdx uint64, uiState state.UIState, isTrimmed, isBad bool, tf state.TestFreq) {
	if l.w == nil {
		return
	}
	if len(buf) == 0 {
		log.Printf("consumer: empty snapshot, skipping CSV")
		return
	}
	if len(buf)%l.numCh != 0 {
		log.Printf("consumer: snapshot size %d not divisible by %d channels, skipping CSV", len(buf), l.numCh)
		return
	}

	tfHz := -1
	if tf != state.FreqNone {
		tfHz = tf.Hz()
	}

	nScans := len(buf) / l.numCh
	for s := 0; s < nScans; s++ {
		rec := l.record[:0]
		rec = append(rec,
			strconv.FormatUint(windowIdx, 10),
			strconv.Itoa(int(uiState)),
			boolDigit(isTrimmed),
			boolDigit(isBad),
			strconv.Itoa(s),
		)
		base := s * l.numCh
		for ch := 0; ch < l.numCh; ch++ {
			rec = append(rec, strconv.FormatFloat(float64(buf[base+ch]), 'g', -1, 32))
		}
		rec = append(rec, strconv.Itoa(int(tf)), strconv.Itoa(tfHz))
		if err := l.w.Write(rec); err != nil {
			log.Printf("consumer: csv write: %v", err)
			return
		}
		l.rows++
	}

	if l.rows%5000 == 0 {
		l.w.Flush()
	}
}

// Close flushes and closes the current file, if any.
func (l *windowLogger) Close() {
	if l.w != nil {
		l.w.Flush()
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			log.Printf("consumer: csv close: %v", err)
		}
	}
	l.file = nil
	l.w = nil
	l.boundDir = ""
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
