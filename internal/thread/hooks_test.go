package thread

import "testing"

func TestEvalWhenNumeric(t *testing.T) {
	env := hookEnv{CostCurrent: 0.42, CostLimit: 0.50, LoopCount: 3}

	cases := []struct {
		expr string
		want bool
	}{
		{"cost.current > 0.40", true},
		{"cost.current > 0.50", false},
		{"cost.current >= 0.42", true},
		{"cost.limit <= 0.5", true},
		{"loop_count == 3", true},
		{"loop_count != 3", false},
		{"loop_count < 2", false},
	}
	for _, c := range cases {
		got, err := evalWhen(c.expr, env)
		if err != nil {
			t.Errorf("evalWhen(%q): %v", c.expr, err)
			continue
		}
		if got != c.want {
			t.Errorf("evalWhen(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEvalWhenStrings(t *testing.T) {
	env := hookEnv{ErrorType: "tool_error", ThreadEvent: "escalated"}

	if got, _ := evalWhen(`error.type == "tool_error"`, env); !got {
		t.Error("quoted string equality did not fire")
	}
	if got, _ := evalWhen("thread.event == escalated", env); !got {
		t.Error("bare string equality did not fire")
	}
	if got, _ := evalWhen("thread.event != escalated", env); got {
		t.Error("inequality fired incorrectly")
	}
	if _, err := evalWhen("error.type > abc", env); err == nil {
		t.Error("ordering on strings accepted")
	}
}

func TestEvalWhenEdgeCases(t *testing.T) {
	env := hookEnv{}

	if got, err := evalWhen("", env); got || err != nil {
		t.Errorf("empty expression = %v, %v", got, err)
	}
	// Unknown variables never fire, never fail the turn.
	if got, err := evalWhen("no.such.var > 1", env); got || err != nil {
		t.Errorf("unknown variable = %v, %v", got, err)
	}
	if _, err := evalWhen("cost.current is high", env); err == nil {
		t.Error("missing operator accepted")
	}
	if _, err := evalWhen("loop_count > banana", env); err == nil {
		t.Error("non-numeric literal accepted for numeric variable")
	}
}
