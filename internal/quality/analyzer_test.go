package quality

import (
	"math"
	"math/rand"
	"testing"

	"github.com/relabs-tech/bci_runtime/internal/state"
)

const (
	testNumCh = 8
	testScans = 320
	testHop   = 40
	testFs    = 250
)

func newTestAnalyzer() (*Analyzer, *state.Store) {
	store := state.New(testNumCh)
	return New(store, testNumCh, testScans, testHop, testFs), store
}

// sineSnapshot builds an interleaved window of a sinusoid plus deterministic
// gaussian noise on every channel.
func sineSnapshot(freqHz, ampUV, noiseSigma float64, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	snap := make([]float32, testScans*testNumCh)
	for s := 0; s < testScans; s++ {
		v := ampUV * math.Sin(2*math.Pi*freqHz*float64(s)/testFs)
		for ch := 0; ch < testNumCh; ch++ {
			snap[s*testNumCh+ch] = float32(v + noiseSigma*rng.NormFloat64())
		}
	}
	return snap
}

func TestBaselineLength(t *testing.T) {
	a, _ := newTestAnalyzer()
	// ceil(45s / (40/250 s)) = ceil(281.25) = 282
	if got := a.BaselineLen(); got != 282 {
		t.Errorf("baseline length = %d, want 282", got)
	}
}

func TestCleanWindowPasses(t *testing.T) {
	a, _ := newTestAnalyzer()
	ws := a.Assess(sineSnapshot(10, 20, 5, 1))
	if ws.IsBad {
		t.Error("clean sinusoidal window flagged artifactual")
	}
	if ws.Stats.RMSUV[0] <= 0 {
		t.Error("rms not computed")
	}
}

func TestHardThresholdSpike(t *testing.T) {
	a, _ := newTestAnalyzer()
	snap := sineSnapshot(10, 20, 5, 2)
	// 220 uV spike on channel 3 across 3 consecutive scans
	for s := 100; s < 103; s++ {
		snap[s*testNumCh+3] = 220
	}
	ws := a.Assess(snap)
	if !ws.IsBad {
		t.Error("220uV x3 spike not flagged artifactual")
	}
}

func TestHardThresholdStep(t *testing.T) {
	a, _ := newTestAnalyzer()
	snap := sineSnapshot(10, 10, 2, 3)
	// two adjacent >100uV jumps on channel 0, staying under the abs limit
	snap[50*testNumCh] = 150
	snap[51*testNumCh] = -150
	snap[52*testNumCh] = 150
	ws := a.Assess(snap)
	if !ws.IsBad {
		t.Error("repeated >100uV steps not flagged artifactual")
	}
}

func TestIdempotence(t *testing.T) {
	snap := sineSnapshot(12, 25, 5, 4)

	a1, _ := newTestAnalyzer()
	a2, _ := newTestAnalyzer()
	w1 := a1.Assess(snap)
	w2 := a2.Assess(snap)

	if w1.IsBad != w2.IsBad {
		t.Fatalf("isBad differs: %v vs %v", w1.IsBad, w2.IsBad)
	}
	for ch := 0; ch < testNumCh; ch++ {
		if w1.Stats.MeanUV[ch] != w2.Stats.MeanUV[ch] ||
			w1.Stats.StdUV[ch] != w2.Stats.StdUV[ch] ||
			w1.Stats.Kurt[ch] != w2.Stats.Kurt[ch] ||
			w1.Stats.Entropy[ch] != w2.Stats.Entropy[ch] {
			t.Fatalf("channel %d stats differ between identical runs", ch)
		}
	}
}

func TestAdaptiveGateNeedsBaseline(t *testing.T) {
	a, _ := newTestAnalyzer()

	// feed an extremely peaky (high-kurtosis) but low-amplitude window
	// before any baseline exists: must pass
	snap := sineSnapshot(10, 1, 0.5, 5)
	snap[10*testNumCh] = 90
	snap[200*testNumCh+1] = 90
	ws := a.Assess(snap)
	if ws.IsBad {
		t.Error("adaptive gate fired without an established baseline")
	}
}

func TestAdaptiveGateFlagsKurtosisOutlier(t *testing.T) {
	a, _ := newTestAnalyzer()

	// establish a stable baseline
	for i := 0; i < MinBaselineWins+5; i++ {
		ws := a.Assess(sineSnapshot(10, 20, 5, int64(10+i)))
		if ws.IsBad {
			t.Fatalf("baseline window %d unexpectedly bad", i)
		}
	}

	// now a heavily peaked window: isolated 90uV pops, below both hard
	// thresholds, so only the kurtosis gate can fire
	snap := sineSnapshot(10, 5, 2, 99)
	for ch := 0; ch < testNumCh; ch++ {
		snap[(40+ch*30)*testNumCh+ch] = 90
	}
	ws := a.Assess(snap)
	if !ws.IsBad {
		t.Error("kurtosis outlier not flagged after baseline established")
	}
}

func TestStatsPublishedOnCadence(t *testing.T) {
	a, store := newTestAnalyzer()
	for i := 0; i < 10; i++ {
		a.Assess(sineSnapshot(10, 20, 5, int64(i)))
	}
	stats := store.SignalStats()
	if stats.NumWinInRolling != 10 {
		t.Errorf("published window count = %d, want 10", stats.NumWinInRolling)
	}
	if stats.Rolling.RMSUV[0] <= 0 {
		t.Error("published rolling rms is zero")
	}
}

func TestRollingEvictionKeepsSumsConsistent(t *testing.T) {
	store := state.New(testNumCh)
	// tiny baseline so eviction happens quickly: hop 4s of 250Hz -> ring of
	// ceil(45/4)=12 windows
	a := New(store, testNumCh, testScans, 1000, testFs)
	n := a.BaselineLen()

	for i := 0; i < n+20; i++ {
		a.Assess(sineSnapshot(10, 20, 5, int64(i)))
	}

	// recompute the expected sums from the ring contents
	var wantSum float64
	for i := 0; i < a.count; i++ {
		wantSum += float64(a.ringBuf[(a.head+i)%a.needed].Stats.RMSUV[0])
	}
	if diff := math.Abs(wantSum - a.sumRMS[0]); diff > 1e-3 {
		t.Errorf("rolling rms sum drifted by %g after evictions", diff)
	}
	if a.count != n {
		t.Errorf("ring count = %d, want %d", a.count, n)
	}
}
