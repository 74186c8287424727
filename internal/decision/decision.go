// Package decision implements the pure threshold mapping from effective risk
// to an enforcement decision (spec.md §4.7). No I/O, no state.
package decision

// Decision is the enforcement action recommended for a risk score.
type Decision string

const (
	Allow     Decision = "ALLOW"
	Monitor   Decision = "MONITOR"
	Challenge Decision = "CHALLENGE"
	Block     Decision = "BLOCK"
)

// Severity orders decisions for monotonicity checks (P6): ALLOW < MONITOR <
// CHALLENGE < BLOCK.
func (d Decision) Severity() int {
	switch d {
	case Allow:
		return 0
	case Monitor:
		return 1
	case Challenge:
		return 2
	case Block:
		return 3
	default:
		return -1
	}
}

// Thresholds configures the decision boundaries. Defaults per spec.md §4.7:
// block=50, challenge=25, monitor=10.
type Thresholds struct {
	Block     float64
	Challenge float64
	Monitor   float64
}

// DefaultThresholds returns the spec default boundary set.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: 50, Challenge: 25, Monitor: 10}
}

// Result is the outcome of Decide.
type Result struct {
	Decision Decision
	Reason   string
}

// Engine maps risk to decisions via fixed thresholds.
type Engine struct {
	Thresholds Thresholds
}

// NewEngine builds a decision engine with the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{Thresholds: t}
}

// Decide maps risk to {decision, reason}: risk >= block -> BLOCK, else
// >= challenge -> CHALLENGE, else >= monitor -> MONITOR, else ALLOW.
func (e *Engine) Decide(risk float64) Result {
	switch {
	case risk >= e.Thresholds.Block:
		return Result{Decision: Block, Reason: "risk at or above block threshold"}
	case risk >= e.Thresholds.Challenge:
		return Result{Decision: Challenge, Reason: "risk at or above challenge threshold"}
	case risk >= e.Thresholds.Monitor:
		return Result{Decision: Monitor, Reason: "risk at or above monitor threshold"}
	default:
		return Result{Decision: Allow, Reason: "risk below monitor threshold"}
	}
}
