package integrity

import "fmt"

// Reason categorizes integrity failures. Integrity failures are fatal for
// the operation that hit them; they are surfaced, never retried.
type Reason string

const (
	ReasonUnsigned       Reason = "unsigned"
	ReasonMalformedLine  Reason = "malformed_line"
	ReasonLegacyFormat   Reason = "legacy_format"
	ReasonHashMismatch   Reason = "hash_mismatch"
	ReasonUntrustedKey   Reason = "untrusted_key"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonPinnedConflict Reason = "pinned_key_conflict"
)

// Error is an integrity failure with an explicit reason.
type Error struct {
	Reason  Reason
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("integrity: %s: %s (%s)", e.Path, e.Message, e.Reason)
	}
	return fmt.Sprintf("integrity: %s (%s)", e.Message, e.Reason)
}

// IsIntegrityError reports whether err is an integrity failure and returns it.
func IsIntegrityError(err error) (*Error, bool) {
	ie, ok := err.(*Error)
	return ie, ok
}
