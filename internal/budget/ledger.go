// Package budget implements per-thread turn, token, spend, and duration
// accounting with cost cascade to the parent thread.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Kind names the budget dimension that fired.
type Kind string

const (
	KindTurns    Kind = "turns"
	KindTokens   Kind = "tokens"
	KindSpend    Kind = "spend"
	KindDuration Kind = "duration"
)

// Exceeded signals a budget has been exhausted. It transitions the thread
// to escalated; it is observable by the caller, never fatal to it.
type Exceeded struct {
	Kind  Kind
	Used  float64
	Limit float64
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("budget exceeded: %s used %.4f of limit %.4f", e.Kind, e.Used, e.Limit)
}

// Limits are the ceilings derived from the directive at thread start,
// possibly overridden by the invoker. Zero means unlimited.
type Limits struct {
	Turns    int
	Tokens   int
	SpendUSD float64
	Duration time.Duration
}

// Merge applies non-zero override values on top of l.
func (l Limits) Merge(override Limits) Limits {
	if override.Turns > 0 {
		l.Turns = override.Turns
	}
	if override.Tokens > 0 {
		l.Tokens = override.Tokens
	}
	if override.SpendUSD > 0 {
		l.SpendUSD = override.SpendUSD
	}
	if override.Duration > 0 {
		l.Duration = override.Duration
	}
	return l
}

// Ledger tracks one thread's consumption. All methods are safe for
// concurrent use; child threads apply cascade deltas at completion.
type Ledger struct {
	mu sync.Mutex

	limits    Limits
	wallStart time.Time

	turnsUsed  int
	tokensUsed int
	spendUsed  float64

	// childSpend and childTokens aggregate completed descendants. The
	// parent's budget check covers own + cascaded consumption.
	childSpend  float64
	childTokens int

	// now is overridable in tests.
	now func() time.Time
}

// NewLedger starts a ledger with the given limits; the duration clock
// starts immediately.
func NewLedger(limits Limits) *Ledger {
	l := &Ledger{limits: limits, now: time.Now}
	l.wallStart = l.now()
	return l
}

// Limits returns the configured ceilings.
func (l *Ledger) Limits() Limits { return l.limits }

// DebitTurn records one completed LLM turn.
func (l *Ledger) DebitTurn(promptTokens, completionTokens int, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turnsUsed++
	l.tokensUsed += promptTokens + completionTokens
	l.spendUsed += costUSD
}

// CascadeChild commits a completed child's consumption into this ledger.
func (l *Ledger) CascadeChild(spendUSD float64, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.childSpend += spendUSD
	l.childTokens += tokens
}

// Check returns an *Exceeded error when any dimension has been exhausted.
// Checked before each LLM turn.
func (l *Ledger) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limits.Turns > 0 && l.turnsUsed >= l.limits.Turns {
		return &Exceeded{Kind: KindTurns, Used: float64(l.turnsUsed), Limit: float64(l.limits.Turns)}
	}
	if l.limits.Tokens > 0 && l.tokensUsed+l.childTokens >= l.limits.Tokens {
		return &Exceeded{Kind: KindTokens, Used: float64(l.tokensUsed + l.childTokens), Limit: float64(l.limits.Tokens)}
	}
	if l.limits.SpendUSD > 0 && l.spendUsed+l.childSpend >= l.limits.SpendUSD {
		return &Exceeded{Kind: KindSpend, Used: l.spendUsed + l.childSpend, Limit: l.limits.SpendUSD}
	}
	if l.limits.Duration > 0 && l.now().Sub(l.wallStart) >= l.limits.Duration {
		return &Exceeded{Kind: KindDuration, Used: l.now().Sub(l.wallStart).Seconds(), Limit: l.limits.Duration.Seconds()}
	}
	return nil
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	TurnsUsed   int
	TokensUsed  int
	SpendUsed   float64
	ChildSpend  float64
	ChildTokens int
	Elapsed     time.Duration
}

// TotalSpend is own plus cascaded spend.
func (s Snapshot) TotalSpend() float64 { return s.SpendUsed + s.ChildSpend }

// TotalTokens is own plus cascaded tokens.
func (s Snapshot) TotalTokens() int { return s.TokensUsed + s.ChildTokens }

// Snapshot returns a consistent copy of the counters.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		TurnsUsed:   l.turnsUsed,
		TokensUsed:  l.tokensUsed,
		SpendUsed:   l.spendUsed,
		ChildSpend:  l.childSpend,
		ChildTokens: l.childTokens,
		Elapsed:     l.now().Sub(l.wallStart),
	}
}
