package budget

import (
	"errors"
	"testing"
	"time"
)

func TestTurnLimitFiresAfterExactlyN(t *testing.T) {
	l := NewLedger(Limits{Turns: 2})

	if err := l.Check(); err != nil {
		t.Fatalf("fresh ledger: %v", err)
	}
	l.DebitTurn(10, 10, 0.001)
	if err := l.Check(); err != nil {
		t.Fatalf("after 1 of 2 turns: %v", err)
	}
	l.DebitTurn(10, 10, 0.001)

	err := l.Check()
	var ex *Exceeded
	if !errors.As(err, &ex) || ex.Kind != KindTurns {
		t.Fatalf("after 2 of 2 turns: %v, want turns exceeded", err)
	}
}

func TestTokenLimit(t *testing.T) {
	l := NewLedger(Limits{Tokens: 500})
	l.DebitTurn(400, 150, 0.002)

	err := l.Check()
	var ex *Exceeded
	if !errors.As(err, &ex) || ex.Kind != KindTokens {
		t.Fatalf("err = %v, want tokens exceeded", err)
	}
}

func TestSpendLimitIncludesCascadedChildren(t *testing.T) {
	l := NewLedger(Limits{SpendUSD: 0.50})
	l.DebitTurn(100, 100, 0.30)
	if err := l.Check(); err != nil {
		t.Fatalf("under limit: %v", err)
	}

	l.CascadeChild(0.25, 2000)
	err := l.Check()
	var ex *Exceeded
	if !errors.As(err, &ex) || ex.Kind != KindSpend {
		t.Fatalf("err = %v, want spend exceeded via cascade", err)
	}

	snap := l.Snapshot()
	if snap.TotalSpend() < snap.ChildSpend {
		t.Error("total spend does not include children")
	}
}

func TestDurationLimit(t *testing.T) {
	l := NewLedger(Limits{Duration: time.Minute})
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	l.wallStart = base

	if err := l.Check(); err != nil {
		t.Fatalf("at start: %v", err)
	}
	l.now = func() time.Time { return base.Add(61 * time.Second) }

	err := l.Check()
	var ex *Exceeded
	if !errors.As(err, &ex) || ex.Kind != KindDuration {
		t.Fatalf("err = %v, want duration exceeded", err)
	}
}

func TestZeroLimitsAreUnlimited(t *testing.T) {
	l := NewLedger(Limits{})
	for i := 0; i < 100; i++ {
		l.DebitTurn(1000, 1000, 1.0)
	}
	if err := l.Check(); err != nil {
		t.Fatalf("unlimited ledger escalated: %v", err)
	}
}

func TestMergeOverrides(t *testing.T) {
	base := Limits{Turns: 10, SpendUSD: 1.0}
	merged := base.Merge(Limits{Turns: 3})
	if merged.Turns != 3 || merged.SpendUSD != 1.0 {
		t.Errorf("merged = %+v", merged)
	}
}
