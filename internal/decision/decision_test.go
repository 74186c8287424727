package decision_test

import (
	"testing"

	"github.com/skywalker-88/authguard/internal/decision"
)

func TestDefaultBoundaries(t *testing.T) {
	e := decision.NewEngine(decision.DefaultThresholds())
	cases := []struct {
		risk float64
		want decision.Decision
	}{
		{0, decision.Allow},
		{9.9, decision.Allow},
		{10, decision.Monitor},
		{24.9, decision.Monitor},
		{25, decision.Challenge},
		{49.9, decision.Challenge},
		{50, decision.Block},
		{100, decision.Block},
	}
	for _, c := range cases {
		got := e.Decide(c.risk).Decision
		if got != c.want {
			t.Errorf("risk=%v: got %s, want %s", c.risk, got, c.want)
		}
	}
}

// P6: decision monotone in risk.
func TestMonotoneSeverity(t *testing.T) {
	e := decision.NewEngine(decision.DefaultThresholds())
	risks := []float64{0, 5, 10, 20, 25, 40, 50, 75, 100}
	for i := 1; i < len(risks); i++ {
		a := e.Decide(risks[i-1])
		b := e.Decide(risks[i])
		if b.Decision.Severity() < a.Decision.Severity() {
			t.Fatalf("severity decreased: risk %v -> %s (%d), risk %v -> %s (%d)",
				risks[i-1], a.Decision, a.Decision.Severity(),
				risks[i], b.Decision, b.Decision.Severity())
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(decision.Allow.Severity() < decision.Monitor.Severity() &&
		decision.Monitor.Severity() < decision.Challenge.Severity() &&
		decision.Challenge.Severity() < decision.Block.Severity()) {
		t.Fatal("severity ordering broken")
	}
}
