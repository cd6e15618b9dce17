package integrity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ryelabs/rye/internal/space"
)

// Identity is one trusted-key document, stored as
// trusted_keys/<fingerprint>.toml in a space.
type Identity struct {
	Fingerprint string `toml:"fingerprint"`
	Name        string `toml:"name"`
	PublicKey   string `toml:"public_key"` // base64url raw key
	Origin      string `toml:"origin,omitempty"`
	CreatedAt   string `toml:"created_at,omitempty"`
}

// Key decodes the identity's public key.
func (i *Identity) Key() (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(i.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// KeyStore resolves key fingerprints across spaces in precedence order
// (project, then user, then system bundles). Read-mostly; TOFU pin writes
// are serialized.
type KeyStore struct {
	spaces []space.Space
	logger *slog.Logger

	mu     sync.Mutex // guards TOFU writes
	cache  sync.Map   // fingerprint -> ed25519.PublicKey
}

// KeyStoreOption configures a KeyStore.
type KeyStoreOption func(*KeyStore)

// WithKeyStoreLogger sets the logger.
func WithKeyStoreLogger(logger *slog.Logger) KeyStoreOption {
	return func(ks *KeyStore) { ks.logger = logger }
}

// NewKeyStore creates a key store over the given spaces.
func NewKeyStore(spaces []space.Space, opts ...KeyStoreOption) *KeyStore {
	ks := &KeyStore{
		spaces: spaces,
		logger: slog.Default().With("component", "integrity.keystore"),
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// Lookup resolves a fingerprint to its trusted public key. Spaces are
// searched in precedence order; the first matching identity wins.
func (ks *KeyStore) Lookup(fingerprint string) (ed25519.PublicKey, error) {
	fingerprint = strings.ToLower(fingerprint)
	if cached, ok := ks.cache.Load(fingerprint); ok {
		return cached.(ed25519.PublicKey), nil
	}

	for _, sp := range ks.spaces {
		path := filepath.Join(sp.TrustedKeysPath(), fingerprint+".toml")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var id Identity
		if err := toml.Unmarshal(data, &id); err != nil {
			ks.logger.Warn("malformed identity document", "path", path, "error", err)
			continue
		}
		key, err := id.Key()
		if err != nil {
			ks.logger.Warn("unusable identity key", "path", path, "error", err)
			continue
		}
		if got := Fingerprint(key); got != fingerprint {
			ks.logger.Warn("identity fingerprint mismatch", "path", path, "want", fingerprint, "got", got)
			continue
		}
		ks.cache.Store(fingerprint, key)
		return key, nil
	}

	return nil, &Error{
		Reason:  ReasonUntrustedKey,
		Message: fmt.Sprintf("key fingerprint %q is not in any trust store", fingerprint),
	}
}

// Trust writes an identity document to the given space's trust store.
func (ks *KeyStore) Trust(sp space.Space, name string, pub ed25519.PublicKey) (*Identity, error) {
	id := &Identity{
		Fingerprint: Fingerprint(pub),
		Name:        name,
		PublicKey:   base64.RawURLEncoding.EncodeToString(pub),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	dir := sp.TrustedKeysPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trust store: %w", err)
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(id); err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	path := filepath.Join(dir, id.Fingerprint+".toml")
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	ks.cache.Store(id.Fingerprint, pub)
	return id, nil
}

// registryPinName is the fixed filename for the pinned registry key.
const registryPinName = "registry.pem"

// PinRegistryKey pins the registry signing key on first use. A later key
// with a different fingerprint for the same origin is rejected.
func (ks *KeyStore) PinRegistryKey(userSpace space.Space, pub ed25519.PublicKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	dir := userSpace.TrustedKeysPath()
	path := filepath.Join(dir, registryPinName)

	existing, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(existing)
		if block == nil || len(block.Bytes) != ed25519.PublicKeySize {
			return &Error{Reason: ReasonPinnedConflict, Path: path, Message: "pinned registry key is unreadable"}
		}
		pinned := ed25519.PublicKey(block.Bytes)
		if Fingerprint(pinned) != Fingerprint(pub) {
			return &Error{
				Reason:  ReasonPinnedConflict,
				Path:    path,
				Message: fmt.Sprintf("registry key %s does not match pinned key %s", Fingerprint(pub), Fingerprint(pinned)),
			}
		}
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create trust store: %w", err)
	}
	blob := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("pin registry key: %w", err)
	}
	ks.logger.Info("pinned registry key", "fingerprint", Fingerprint(pub))
	ks.cache.Store(Fingerprint(pub), pub)
	return nil
}
