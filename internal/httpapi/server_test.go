package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parlo-voice/parlo/internal/config"
	"github.com/parlo-voice/parlo/internal/observability"
	"github.com/parlo-voice/parlo/internal/session"
)

// Each test needs its own metrics namespace: NewMetrics registers with the
// global Prometheus registry, which panics on duplicate registration.
var testMetricsSeq atomic.Int64

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics("test_httpapi_" + strconv.FormatInt(testMetricsSeq.Add(1), 10))
	srv := New(cfg, sessions, nil, metrics, observability.NewStageWindow(32))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestCreateAndEndSession(t *testing.T) {
	_, ts := newTestServer(t)

	createReq := map[string]string{
		"learner_id": "learner-1",
		"mode":       "conversation",
	}
	body, _ := json.Marshal(createReq)
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if mode, _ := created["mode"].(string); mode != "conversation" {
		t.Fatalf("mode = %q, want conversation", mode)
	}

	endRes, err := http.Post(ts.URL+"/v1/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
}

func TestCreateSessionRejectsUnknownMode(t *testing.T) {
	_, ts := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/session", "application/json", strings.NewReader(`{"mode":"karaoke"}`))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestEndUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndReady(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestSessionStatus(t *testing.T) {
	srv, ts := newTestServer(t)
	sess := srv.sessions.Create("learner-1", session.ModeInterview)

	res, err := http.Get(ts.URL + "/v1/session/" + sess.ID + "/status")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["session"]; !ok {
		t.Fatalf("status response missing session: %+v", body)
	}
}

func TestPerfTurnsEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.stages.Observe("turn_total", 800)

	res, err := http.Get(ts.URL + "/v1/perf/turns")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var snap observability.TurnStageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "turn_total" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestWSRequiresSessionID(t *testing.T) {
	_, ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/session/ws")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestDecodeFramePCM(t *testing.T) {
	if _, err := decodeFramePCM("AQID"); err == nil {
		t.Fatal("odd-length payload accepted")
	}
	samples, err := decodeFramePCM("AQACAA==")
	if err != nil {
		t.Fatalf("decodeFramePCM error = %v", err)
	}
	if len(samples) != 2 || samples[0] != 1 || samples[1] != 2 {
		t.Fatalf("samples = %v, want [1 2]", samples)
	}
}
