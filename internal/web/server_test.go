package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relabs-tech/bci_runtime/internal/config"
	"github.com/relabs-tech/bci_runtime/internal/state"
)

func testServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	cfg := config.Default()
	store := state.New(cfg.NumChannels)
	return NewServer(store, cfg), store
}

func TestStateSnapshotJSON(t *testing.T) {
	s, store := testServer(t)
	store.SetUIState(state.UIHome)
	store.UISeq.Store(7)
	store.RefreshHz.Store(60)

	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("state is not json: %v", err)
	}
	if got["seq"].(float64) != 7 {
		t.Errorf("seq = %v", got["seq"])
	}
	if got["ui_state"].(float64) != float64(state.UIHome) {
		t.Errorf("ui_state = %v, want %d", got["ui_state"], state.UIHome)
	}
	// the default saved-session entry must always be present
	if sessions := got["saved_sessions"].([]any); len(sessions) != 1 {
		t.Errorf("saved_sessions length = %d", len(sessions))
	}
}

func TestEventPostMapsActions(t *testing.T) {
	s, store := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(`{"action":"start_calib"}`))
	rec := httptest.NewRecorder()
	s.handleEvent(rec, req)

	if ev := store.ConsumeEvent(); ev != state.EvStartCalib {
		t.Errorf("posted event = %v, want UserPushesStartCalib", ev)
	}
	// slot is exchange-consumed
	if ev := store.ConsumeEvent(); ev != state.EvNone {
		t.Errorf("second consume = %v, want None", ev)
	}
}

func TestEventPostSelectSessionCarriesIndex(t *testing.T) {
	s, store := testServer(t)

	body := `{"action":"select_session","session_idx":2}`
	rec := httptest.NewRecorder()
	s.handleEvent(rec, httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(body)))

	if idx := store.CurrentSessionIdx.Load(); idx != 2 {
		t.Errorf("session idx = %d, want 2", idx)
	}
	if ev := store.ConsumeEvent(); ev != state.EvSelectSession {
		t.Errorf("event = %v, want UserSelectsSession", ev)
	}
}

func TestEventPostRejectsUnknownAction(t *testing.T) {
	s, store := testServer(t)

	rec := httptest.NewRecorder()
	s.handleEvent(rec, httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(`{"action":"fly"}`)))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["ok"].(bool) {
		t.Error("unknown action accepted")
	}
	if ev := store.ConsumeEvent(); ev != state.EvNone {
		t.Errorf("event slot written for unknown action: %v", ev)
	}
}

func TestReadyStoresRefresh(t *testing.T) {
	s, store := testServer(t)

	rec := httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodPost, "/ready", strings.NewReader(`{"refresh_hz":144}`)))

	if hz := store.RefreshHz.Load(); hz != 144 {
		t.Errorf("refresh = %d, want 144", hz)
	}

	rec = httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodPost, "/ready", strings.NewReader(`{"refresh_hz":0}`)))
	if hz := store.RefreshHz.Load(); hz != 144 {
		t.Errorf("invalid refresh overwrote the stored value")
	}
}

func TestCalibOptionsStoresForm(t *testing.T) {
	s, store := testServer(t)

	body := `{"subject_name":"alice","epilepsy_risk":1}`
	rec := httptest.NewRecorder()
	s.handleCalibOptions(rec, httptest.NewRequest(http.MethodPost, "/calib_options", strings.NewReader(body)))

	name, risk := store.PendingCalibOptions()
	if name != "alice" || risk != state.EpilepsyStandard {
		t.Errorf("pending form = %q/%v", name, risk)
	}
}

func TestSettingsUpdate(t *testing.T) {
	s, store := testServer(t)

	body := `{"train_arch":"cnn"}`
	rec := httptest.NewRecorder()
	s.handleSettings(rec, httptest.NewRequest(http.MethodPost, "/settings", strings.NewReader(body)))

	got := store.Settings()
	if got.TrainArch != "cnn" {
		t.Errorf("train_arch = %q, want cnn", got.TrainArch)
	}
	if got.CalibData != "most_recent_only" {
		t.Errorf("calib_data clobbered: %q", got.CalibData)
	}
}

func TestEEGBeforeFirstChunk(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	s.handleEEG(rec, httptest.NewRequest(http.MethodGet, "/eeg", nil))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["ok"].(bool) {
		t.Error("eeg reported ok before any chunk arrived")
	}
}
