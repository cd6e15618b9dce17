// Package integrity implements the inline signed-comment format, Ed25519
// signing and verification, and the TOFU-pinned trust store.
package integrity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Marker is the signed-line tag. Legacy validated markers are recognized
// only to be rejected.
const (
	Marker          = "rye:signed:"
	legacyMarker    = "rye:validated:"
	legacyKiwi      = "kiwi-mcp:validated:"
	FingerprintLen  = 16
	timestampLayout = time.RFC3339
)

// SignedLine is a parsed inline signature comment.
type SignedLine struct {
	// Offset is the byte offset of the line start within the file.
	Offset int

	// Length is the line length including the trailing newline if present.
	Length int

	Timestamp   time.Time
	ContentHash string // sha256 hex of the content without this line
	Signature   []byte // ed25519 signature over the content
	Fingerprint string // 16 hex chars of the signing key
}

// commentPrefix returns the single-line comment marker for a file extension.
// Markdown items carry the signature inside an HTML comment.
func commentPrefix(ext string) (prefix, suffix string) {
	switch ext {
	case ".md":
		return "<!-- ", " -->"
	case ".js", ".ts", ".go":
		return "// ", ""
	default:
		// py, sh, rb, yaml, yml, toml
		return "# ", ""
	}
}

// FormatLine renders a signed comment line for the given file extension.
func FormatLine(ext string, ts time.Time, contentHash string, sig []byte, fingerprint string) string {
	prefix, suffix := commentPrefix(ext)
	return fmt.Sprintf("%s%s%s:%s:%s:%s%s",
		prefix, Marker,
		ts.UTC().Format(timestampLayout),
		contentHash,
		base64.RawURLEncoding.EncodeToString(sig),
		fingerprint,
		suffix)
}

// parseLine parses one physical line. Returns nil if the line is not a
// signed comment. Legacy markers return errLegacy.
func parseLine(line string, offset, length int) (*SignedLine, error) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimSuffix(trimmed, "-->")
	trimmed = strings.TrimSpace(trimmed)

	idx := strings.Index(trimmed, Marker)
	if idx < 0 {
		if strings.Contains(trimmed, legacyMarker) || strings.Contains(trimmed, legacyKiwi) {
			return nil, &Error{Reason: ReasonLegacyFormat, Message: "legacy validated marker is no longer accepted"}
		}
		return nil, nil
	}

	body := trimmed[idx+len(Marker):]
	// <iso8601>:<sha256hex>:<b64url>:<fp>. The timestamp itself contains
	// colons, so split from the right.
	parts := strings.Split(body, ":")
	if len(parts) < 4 {
		return nil, &Error{Reason: ReasonMalformedLine, Message: "signed line has too few fields"}
	}
	fp := parts[len(parts)-1]
	sigB64 := parts[len(parts)-2]
	hash := parts[len(parts)-3]
	tsStr := strings.Join(parts[:len(parts)-3], ":")

	ts, err := time.Parse(timestampLayout, tsStr)
	if err != nil {
		return nil, &Error{Reason: ReasonMalformedLine, Message: "invalid signature timestamp: " + tsStr}
	}
	if len(hash) != sha256.Size*2 {
		return nil, &Error{Reason: ReasonMalformedLine, Message: "invalid content hash length"}
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, &Error{Reason: ReasonMalformedLine, Message: "invalid signature encoding"}
	}
	if len(fp) != FingerprintLen {
		return nil, &Error{Reason: ReasonMalformedLine, Message: "invalid key fingerprint length"}
	}

	return &SignedLine{
		Offset:      offset,
		Length:      length,
		Timestamp:   ts,
		ContentHash: hash,
		Signature:   sig,
		Fingerprint: strings.ToLower(fp),
	}, nil
}

// ExtractLatest scans content for signed lines and returns the newest one
// by timestamp (ties broken by byte offset, later wins) along with the
// content with exactly that line removed. Older signed lines stay in the
// content and therefore participate in the hash.
func ExtractLatest(content []byte) (*SignedLine, []byte, error) {
	var latest *SignedLine
	offset := 0
	for offset < len(content) {
		end := offset
		for end < len(content) && content[end] != '\n' {
			end++
		}
		length := end - offset
		if end < len(content) {
			length++ // include the newline
		}
		line := string(content[offset : offset+length])

		sl, err := parseLine(strings.TrimSuffix(line, "\n"), offset, length)
		if err != nil {
			return nil, nil, err
		}
		if sl != nil {
			if latest == nil || sl.Timestamp.After(latest.Timestamp) ||
				(sl.Timestamp.Equal(latest.Timestamp) && sl.Offset > latest.Offset) {
				latest = sl
			}
		}
		offset += length
	}

	if latest == nil {
		return nil, content, nil
	}

	stripped := make([]byte, 0, len(content)-latest.Length)
	stripped = append(stripped, content[:latest.Offset]...)
	stripped = append(stripped, content[latest.Offset+latest.Length:]...)
	return latest, stripped, nil
}

// ContentHash computes the sha256 hex digest of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives the 16-hex-char fingerprint of a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}

// ExtForPath returns the lowercase extension used to choose a comment style.
func ExtForPath(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
