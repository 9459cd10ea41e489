package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type stubRelay struct {
	running   bool
	processed uint64
	last      time.Time
}

func (r stubRelay) Running() bool              { return r.running }
func (r stubRelay) Stats() (uint64, time.Time) { return r.processed, r.last }

func TestHealthCheckUnreachableDatabase(t *testing.T) {
	relay := stubRelay{running: true, processed: 12, last: time.Now()}
	hc := NewHealthChecker(relay, unreachableDB(), nil, time.Minute)

	status := hc.Check(context.Background())
	if status.Healthy {
		t.Error("healthy with an unreachable database")
	}
	if status.DatabaseConnected {
		t.Error("database reported connected")
	}
	if !status.RelayActive {
		t.Error("relay not reported active")
	}
	if status.EventsProcessed != 12 {
		t.Errorf("events processed = %d, want 12", status.EventsProcessed)
	}
	if len(status.Errors) == 0 {
		t.Fatal("no errors reported")
	}
	if !strings.Contains(status.Errors[0], "database ping failed") {
		t.Errorf("errors = %v, want a database ping failure first", status.Errors)
	}
}

func TestHealthCheckInactiveRelay(t *testing.T) {
	hc := NewHealthChecker(stubRelay{running: false}, unreachableDB(), nil, time.Minute)

	status := hc.Check(context.Background())
	if status.RelayActive {
		t.Error("relay reported active")
	}
	found := false
	for _, e := range status.Errors {
		if e == "relay not active" {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want a relay-not-active entry", status.Errors)
	}
}

func TestHealthEndpoint(t *testing.T) {
	hc := NewHealthChecker(stubRelay{running: true}, unreachableDB(), nil, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	hc.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if healthy, _ := body["healthy"].(bool); healthy {
		t.Error("body reports healthy")
	}
	if active, _ := body["relay_active"].(bool); !active {
		t.Error("body does not report the relay active")
	}
	if connected, _ := body["database_connected"].(bool); connected {
		t.Error("body reports the database connected")
	}
}
