package executor

import "fmt"

// Stage names the execution phase that failed.
type Stage string

const (
	StageParams    Stage = "params"
	StageAnchor    Stage = "anchor"
	StageEnv       Stage = "env"
	StageVerify    Stage = "verify_deps"
	StageInvoke    Stage = "invoke"
	StageTimeout   Stage = "timeout"
	StageTransport Stage = "transport"
)

// Error is an execution failure ahead of or during primitive invocation.
// The runtime folds it into an error envelope for the model.
type Error struct {
	Stage   Stage
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor %s: %s", e.Stage, e.Message)
}
