package integrity

import (
	"crypto/ed25519"
	"log/slog"
	"os"
	"time"
)

// Verifier checks inline-signed files against the trust store.
type Verifier struct {
	keys   *KeyStore
	logger *slog.Logger
}

// NewVerifier creates a verifier backed by a key store.
func NewVerifier(keys *KeyStore, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default().With("component", "integrity.verifier")
	}
	return &Verifier{keys: keys, logger: logger}
}

// Verify checks content end to end: signed line present and well formed,
// content hash matches, fingerprint trusted, signature valid. The steps are
// atomic: any failure yields an *Error and no partial result.
func (v *Verifier) Verify(content []byte) (*SignedLine, error) {
	sl, stripped, err := ExtractLatest(content)
	if err != nil {
		return nil, err
	}
	if sl == nil {
		return nil, &Error{Reason: ReasonUnsigned, Message: "no signature line found"}
	}

	if got := ContentHash(stripped); got != sl.ContentHash {
		return nil, &Error{
			Reason:  ReasonHashMismatch,
			Message: "content hash " + got + " does not match embedded hash " + sl.ContentHash,
		}
	}

	key, err := v.keys.Lookup(sl.Fingerprint)
	if err != nil {
		return nil, err
	}

	if !ed25519.Verify(key, stripped, sl.Signature) {
		return nil, &Error{Reason: ReasonBadSignature, Message: "ed25519 signature verification failed"}
	}

	return sl, nil
}

// VerifyFile reads and verifies a file, annotating errors with its path.
func (v *Verifier) VerifyFile(path string) (*SignedLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Reason: ReasonUnsigned, Path: path, Message: "unreadable: " + err.Error()}
	}
	sl, verr := v.Verify(data)
	if verr != nil {
		if ie, ok := IsIntegrityError(verr); ok && ie.Path == "" {
			ie.Path = path
		}
		return nil, verr
	}
	return sl, nil
}

// Signer signs files with a private key whose public half should already be
// in a trust store.
type Signer struct {
	priv ed25519.PrivateKey
	fp   string

	// now is overridable in tests for stable signatures.
	now func() time.Time
}

// NewSigner creates a signer for a private key.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		fp:   Fingerprint(priv.Public().(ed25519.PublicKey)),
		now:  time.Now,
	}
}

// Fingerprint returns the signer's key fingerprint.
func (s *Signer) Fingerprint() string { return s.fp }

// SignContent strips any existing signature lines (the newest repeatedly,
// so re-signing is idempotent for stable content) and returns the content
// with a fresh signed line appended.
func (s *Signer) SignContent(content []byte, ext string) ([]byte, error) {
	for {
		sl, stripped, err := ExtractLatest(content)
		if err != nil {
			// Legacy lines block extraction; treat the raw bytes as content.
			break
		}
		if sl == nil {
			break
		}
		content = stripped
	}

	hash := ContentHash(content)
	sig := ed25519.Sign(s.priv, content)
	line := FormatLine(ext, s.now().UTC(), hash, sig, s.fp)

	signed := make([]byte, 0, len(content)+len(line)+2)
	signed = append(signed, content...)
	if len(signed) > 0 && signed[len(signed)-1] != '\n' {
		signed = append(signed, '\n')
	}
	signed = append(signed, line...)
	signed = append(signed, '\n')
	return signed, nil
}

// SignFile signs a file in place.
func (s *Signer) SignFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	signed, err := s.SignContent(data, ExtForPath(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, signed, 0o644)
}
