package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sound2osc/sound2osc/internal/engine"
	"github.com/sound2osc/sound2osc/internal/osc"
)

type fakeCore struct {
	status engine.Status
	state  engine.State
	log    []osc.LogEntry
}

func (f *fakeCore) Status() engine.Status      { return f.status }
func (f *fakeCore) ToState() engine.State      { return f.state }
func (f *fakeCore) FromState(s engine.State)   { f.state = s }
func (f *fakeCore) MessageLog() []osc.LogEntry { return f.log }

func newTestCore() *fakeCore {
	return &fakeCore{
		status: engine.Status{
			Spectrum: []float64{0.1, 0.2},
			Bands:    []engine.BandStatus{{Name: "bass", Active: true, Level: 0.7, Threshold: 0.5}},
			BPM:      120,
		},
		state: engine.State{
			Spectrum: engine.SpectrumState{Gain: 1, Compression: 1},
			BPM:      engine.BPMState{Min: 75, Max: 200, AutoDetect: true},
		},
		log: []osc.LogEntry{{Direction: osc.LogOut, Text: "/test 1"}},
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := NewServer(newTestCore(), nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var status engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.BPM != 120 || len(status.Bands) != 1 || status.Bands[0].Name != "bass" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStateEndpointRoundTrip(t *testing.T) {
	core := newTestCore()
	s := NewServer(core, nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var state engine.State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !reflect.DeepEqual(state, core.state) {
		t.Fatalf("state = %+v, want %+v", state, core.state)
	}

	state.BPM.Min = 90
	body, _ := json.Marshal(state)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/state", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("post status code %d", rec.Code)
	}
	if core.state.BPM.Min != 90 {
		t.Fatalf("posted state not applied: %+v", core.state.BPM)
	}
}

func TestStateEndpointRejectsBadJSON(t *testing.T) {
	s := NewServer(newTestCore(), nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/state", strings.NewReader("{nope")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status code %d, want 400", rec.Code)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	s := NewServer(newTestCore(), nil)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))

	var entries []osc.LogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "/test 1" {
		t.Fatalf("unexpected log %+v", entries)
	}
}

func TestWebSocketReceivesStatusPush(t *testing.T) {
	core := newTestCore()
	s := NewServer(core, nil)
	defer s.Close()
	go s.broadcastLoop()
	go s.statusLoop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var status engine.Status
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("decode pushed status: %v", err)
	}
	if status.BPM != 120 {
		t.Fatalf("pushed BPM = %v, want 120", status.BPM)
	}
}
