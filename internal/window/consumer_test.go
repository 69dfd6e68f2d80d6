package window

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/eeg"
	"github.com/relabs-tech/bci_runtime/internal/quality"
	"github.com/relabs-tech/bci_runtime/internal/ring"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NumChannels = 8
	cfg.ScansPerChunk = 32
	cfg.WindowScans = 320
	cfg.HopScans = 40
	return cfg
}

func testConsumer(t *testing.T, cfg *config.Config) (*Consumer, *state.Store, *ring.Ring, string) {
	t.Helper()
	store := state.New(cfg.NumChannels)
	rb := ring.New(cfg.RingCapacity)
	an := quality.New(store, cfg.NumChannels, cfg.WindowScans, cfg.HopScans, cfg.SampleRateHz)
	root := t.TempDir()
	return NewConsumer(store, rb, an, cfg, root), store, rb, root
}

// sineChunk fills one chunk with a clean 10 Hz sinusoid continued from
// startScan.
func sineChunk(cfg *config.Config, tick uint64, startScan int) eeg.Chunk {
	c := eeg.NewChunk(cfg.NumChannels, cfg.ScansPerChunk)
	c.Tick = tick
	for s := 0; s < cfg.ScansPerChunk; s++ {
		v := float32(20 * math.Sin(2*math.Pi*10*float64(startScan+s)/float64(cfg.SampleRateHz)))
		for ch := 0; ch < cfg.NumChannels; ch++ {
			c.Data[s*cfg.NumChannels+ch] = v
		}
	}
	return c
}

func pushChunks(t *testing.T, cfg *config.Config, rb *ring.Ring, firstTick uint64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tick := firstTick + uint64(i)
		if err := rb.Push(sineChunk(cfg, tick, int(tick-1)*cfg.ScansPerChunk)); err != nil {
			t.Fatalf("push chunk %d: %v", tick, err)
		}
	}
}

func TestChunkAlignedWindow(t *testing.T) {
	cfg := testConfig()
	c, store, rb, _ := testConsumer(t, cfg)

	store.SetUIState(state.UIActiveCalib)
	store.SetFreq(state.Freq10Hz)

	// 10 chunks prime the 320-scan window exactly; 2 more cover the hop
	// refill of the first emitted window.
	pushChunks(t, cfg, rb, 1, 12)

	if !c.ProcessOne() {
		t.Fatal("ProcessOne returned terminal")
	}

	if c.Tick() != 1 {
		t.Fatalf("emitted %d windows, want 1", c.Tick())
	}
	if got := c.WindowFill(); got != cfg.WindowScans*cfg.NumChannels {
		t.Errorf("window holds %d samples, want %d", got, cfg.WindowScans*cfg.NumChannels)
	}
	// hop (40 scans) is 1.25 chunks: three quarters of a chunk (24 scans)
	// stays in the stash
	if got, want := c.StashLen(), 24*cfg.NumChannels; got != want {
		t.Errorf("stash holds %d samples, want %d", got, want)
	}
}

func TestStashStaysBounded(t *testing.T) {
	cfg := testConfig()
	cfg.WindowScans = 300 // not a multiple of the 32-scan chunk
	c, store, rb, _ := testConsumer(t, cfg)

	store.SetUIState(state.UIActiveCalib)
	store.SetFreq(state.Freq10Hz)

	pushChunks(t, cfg, rb, 1, 40)

	chunkSamples := cfg.ScansPerChunk * cfg.NumChannels
	for i := 0; i < 10; i++ {
		if !c.ProcessOne() {
			t.Fatalf("ProcessOne %d returned terminal", i)
		}
		if c.StashLen() > chunkSamples {
			t.Fatalf("iteration %d: stash %d exceeds chunk size %d", i, c.StashLen(), chunkSamples)
		}
	}
	if c.Tick() != 10 {
		t.Errorf("emitted %d windows, want 10", c.Tick())
	}
}

func TestGuardStatesDiscardChunks(t *testing.T) {
	cfg := testConfig()
	c, store, rb, _ := testConsumer(t, cfg)

	store.SetUIState(state.UIActiveCalib)
	store.SetFreq(state.Freq10Hz)
	pushChunks(t, cfg, rb, 1, 13)
	if !c.ProcessOne() {
		t.Fatal("ProcessOne returned terminal")
	}

	// Home: the consumer must pop-and-discard to prevent ring overflow
	store.SetUIState(state.UIHome)
	before := rb.Count()
	if !c.ProcessOne() {
		t.Fatal("ProcessOne returned terminal in Home")
	}
	if rb.Count() != before-1 {
		t.Errorf("ring count %d, want %d (one chunk discarded)", rb.Count(), before-1)
	}
	if c.Tick() != 1 {
		t.Errorf("window emitted in Home state")
	}
}

func TestMidWindowStateChangeDiscards(t *testing.T) {
	cfg := testConfig()
	c, store, rb, root := testConsumer(t, cfg)

	store.SetUIState(state.UIActiveCalib)
	store.SetFreq(state.Freq10Hz)

	// exactly enough for prime + one full window
	pushChunks(t, cfg, rb, 1, 12)
	if !c.ProcessOne() {
		t.Fatal("first window not emitted")
	}

	// Next iteration blocks mid-refill on the empty ring; change the UI
	// state while it waits, then feed the chunk it is waiting for.
	done := make(chan bool, 1)
	go func() { done <- c.ProcessOne() }()

	time.Sleep(50 * time.Millisecond)
	store.SetUIState(state.UIHome)
	pushChunks(t, cfg, rb, 13, 2)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("ProcessOne returned terminal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessOne did not return")
	}

	if c.Tick() != 1 {
		t.Errorf("window spanning a state change was emitted (tick=%d)", c.Tick())
	}

	// no labeled rows may have been written for the discarded window
	c.logger.Close()
	raw, err := os.ReadFile(filepath.Join(root, "eeg_windows.csv"))
	if err == nil {
		lines := strings.Count(string(raw), "\n")
		want := 1 + (cfg.WindowScans - 2*trimScansPerEnd) // header + first window
		if lines != want {
			t.Errorf("csv has %d lines, want %d", lines, want)
		}
	}
}

func TestCalibWindowLoggedTrimmed(t *testing.T) {
	cfg := testConfig()
	c, store, rb, root := testConsumer(t, cfg)

	store.SetUIState(state.UIActiveCalib)
	store.SetFreq(state.Freq10Hz)
	pushChunks(t, cfg, rb, 1, 12)

	if !c.ProcessOne() {
		t.Fatal("ProcessOne returned terminal")
	}
	c.logger.Close()

	raw, err := os.ReadFile(filepath.Join(root, "eeg_windows.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")

	wantRows := cfg.WindowScans - 2*trimScansPerEnd
	if len(lines) != 1+wantRows {
		t.Fatalf("csv rows = %d, want %d (+header)", len(lines)-1, wantRows)
	}

	header := strings.Split(lines[0], ",")
	wantHeader := []string{"window_idx", "ui_state", "is_trimmed", "is_bad", "sample_idx"}
	for i, h := range wantHeader {
		if header[i] != h {
			t.Errorf("header[%d] = %q, want %q", i, header[i], h)
		}
	}

	first := strings.Split(lines[1], ",")
	if first[2] != "1" {
		t.Errorf("is_trimmed = %q, want 1", first[2])
	}
	// testfreq columns are last: enum then hz
	if first[len(first)-2] != "3" || first[len(first)-1] != "10" {
		t.Errorf("testfreq columns = %v, want enum 3 / 10 Hz", first[len(first)-2:])
	}
}

func TestFinalizeHandshake(t *testing.T) {
	cfg := testConfig()
	c, store, rb, root := testConsumer(t, cfg)

	// lay out an in-progress session the way the stimulus controller does
	subj := "alice"
	sid := "2026-01-02_03-04-05__IN_PROGRESS"
	dataDir := filepath.Join(root, "data", subj, sid)
	modelDir := filepath.Join(root, "models", subj, sid)
	for _, d := range []string{dataDir, modelDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	store.SetSession(state.SessionSnapshot{
		SubjectID: subj,
		SessionID: sid,
		DataDir:   dataDir,
		ModelDir:  modelDir,
	})

	store.FinalizeRequest.Set()

	// one guarded iteration is enough to run the finalize path (10 chunks
	// prime the window, one more feeds the guarded pop)
	store.SetUIState(state.UIHome)
	pushChunks(t, cfg, rb, 1, 11)
	if !c.ProcessOne() {
		t.Fatal("ProcessOne returned terminal")
	}

	finalID := "2026-01-02_03-04-05"
	if _, err := os.Stat(filepath.Join(root, "data", subj, finalID)); err != nil {
		t.Errorf("final data dir missing: %v", err)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Errorf("suffixed data dir still present")
	}

	snap := store.Session()
	if snap.SessionID != finalID {
		t.Errorf("published session id = %q, want %q", snap.SessionID, finalID)
	}

	if !store.TrainJobRequest.TryConsume() {
		t.Error("train job was not requested after finalize")
	}
}
