package chain

import "fmt"

// Reason classifies a chain rejection.
type Reason string

const (
	ReasonCycle                Reason = "cycle"
	ReasonTooDeep              Reason = "too_deep"
	ReasonTerminalNotPrimitive Reason = "terminal_not_primitive"
	ReasonPrecedence           Reason = "space_precedence"
	ReasonSchema               Reason = "schema_incompatible"
	ReasonVersion              Reason = "version_mismatch"
)

// Error rejects a chain. Fatal for the dispatch; the runtime delivers it to
// the model as a tool result rather than aborting the thread.
type Error struct {
	LeafID  string
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain error for %s (%s): %s", e.LeafID, e.Reason, e.Message)
}
