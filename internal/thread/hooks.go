package thread

import (
	"fmt"
	"strconv"
	"strings"
)

// hookEnv is the variable set hook when-expressions are evaluated against.
type hookEnv struct {
	CostCurrent float64
	CostLimit   float64
	LoopCount   int
	ErrorType   string
	ThreadEvent string
}

func (e hookEnv) lookup(key string) (any, bool) {
	switch key {
	case "cost.current":
		return e.CostCurrent, true
	case "cost.limit":
		return e.CostLimit, true
	case "loop_count":
		return e.LoopCount, true
	case "error.type":
		return e.ErrorType, true
	case "thread.event":
		return e.ThreadEvent, true
	}
	return nil, false
}

// hook operators, two-character forms first so ">=" is not split as ">".
var hookOps = []string{">=", "<=", "==", "!=", ">", "<"}

// evalWhen evaluates a single comparison of the form
// ident(.ident)* op literal. Unknown variables make the hook not fire
// rather than failing the turn.
func evalWhen(expr string, env hookEnv) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	var op string
	var idx int = -1
	for _, candidate := range hookOps {
		if i := strings.Index(expr, candidate); i >= 0 {
			op = candidate
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("hook expression %q has no comparison operator", expr)
	}

	key := strings.TrimSpace(expr[:idx])
	lit := strings.TrimSpace(expr[idx+len(op):])

	left, ok := env.lookup(key)
	if !ok {
		return false, nil
	}

	switch v := left.(type) {
	case float64:
		return compareNumeric(v, lit, op)
	case int:
		return compareNumeric(float64(v), lit, op)
	case string:
		return compareString(v, strings.Trim(lit, `"'`), op)
	}
	return false, nil
}

func compareNumeric(left float64, lit, op string) (bool, error) {
	right, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return false, fmt.Errorf("hook literal %q is not numeric", lit)
	}
	switch op {
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func compareString(left, right, op string) (bool, error) {
	switch op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("operator %q not defined for strings", op)
}
