package alert_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skywalker-88/authguard/internal/alert"
	"github.com/skywalker-88/authguard/internal/decision"
)

func TestGate_BlockAlwaysEmits(t *testing.T) {
	if !alert.Gate(decision.Block, 0) {
		t.Fatal("BLOCK must always gate true")
	}
}

func TestGate_ChallengeRequiresRiskThreshold(t *testing.T) {
	if alert.Gate(decision.Challenge, 49.9) {
		t.Fatal("CHALLENGE below 50 must not gate")
	}
	if !alert.Gate(decision.Challenge, 50) {
		t.Fatal("CHALLENGE at 50 must gate")
	}
}

func TestGate_AllowMonitorNeverEmit(t *testing.T) {
	if alert.Gate(decision.Allow, 100) || alert.Gate(decision.Monitor, 100) {
		t.Fatal("ALLOW/MONITOR must never gate")
	}
}

func TestEmit_DispatchesAndCarriesCampaign(t *testing.T) {
	var received alert.Payload
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := alert.NewManager(srv.URL, 300*time.Second)
	now := time.Now()
	m.Emit(context.Background(), decision.Block, "10.0.0.1", "LOGIN", "", "10.0.0.1", 80, []string{"failed_login_velocity"}, now)

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", hits)
	}
	if received.Campaign == nil || received.Campaign.ID != "IP::10.0.0.1" {
		t.Fatalf("expected IP campaign, got %+v", received.Campaign)
	}
	if received.Severity != alert.SeverityCritical {
		t.Fatalf("severity = %s, want CRITICAL at risk 80", received.Severity)
	}
}

func TestEmit_UsernameCampaignPreferred(t *testing.T) {
	var received alert.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := alert.NewManager(srv.URL, 300*time.Second)
	m.Emit(context.Background(), decision.Block, "jane", "LOGIN", "jane", "10.0.0.1", 80, nil, time.Now())

	if received.Campaign == nil || received.Campaign.ID != "USER::jane" {
		t.Fatalf("expected USER campaign, got %+v", received.Campaign)
	}
}

func TestEmit_SuppressedWithinWindow(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := alert.NewManager(srv.URL, 300*time.Second)
	now := time.Now()
	m.Emit(context.Background(), decision.Block, "10.0.0.1", "LOGIN", "", "10.0.0.1", 80, nil, now)
	m.Emit(context.Background(), decision.Block, "10.0.0.1", "LOGIN", "", "10.0.0.1", 80, nil, now.Add(10*time.Second))

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected suppression to prevent 2nd dispatch, got %d hits", hits)
	}

	m.Emit(context.Background(), decision.Block, "10.0.0.1", "LOGIN", "", "10.0.0.1", 80, nil, now.Add(400*time.Second))
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected dispatch after suppression window elapsed, got %d hits", hits)
	}
}

func TestEmit_NeverPanicsOnBadWebhook(t *testing.T) {
	m := alert.NewManager("http://127.0.0.1:0", 300*time.Second)
	// Must not panic or block test completion.
	m.Emit(context.Background(), decision.Block, "10.0.0.1", "LOGIN", "", "10.0.0.1", 80, nil, time.Now())
}

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		d    decision.Decision
		risk float64
		want alert.Severity
	}{
		{decision.Block, 74.9, alert.SeverityHigh},
		{decision.Block, 75, alert.SeverityCritical},
		{decision.Challenge, 39.9, alert.SeverityLow},
		{decision.Challenge, 40, alert.SeverityMedium},
	}
	for _, c := range cases {
		var received alert.Payload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusOK)
		}))
		m := alert.NewManager(srv.URL, 300*time.Second)
		m.Emit(context.Background(), c.d, "10.0.0.1", "LOGIN", "", "10.0.0.1", c.risk, nil, time.Now())
		srv.Close()
		if received.Severity != c.want {
			t.Errorf("decision=%s risk=%v: severity=%s, want %s", c.d, c.risk, received.Severity, c.want)
		}
	}
}
