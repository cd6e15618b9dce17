// keys.go implements signing key storage and the keys subcommands. The
// private key lives in the user space as a PEM-encoded ed25519 seed.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ryelabs/rye/internal/space"
)

const (
	signingKeyName = "signing.pem"
	publicKeyName  = "signing.pub.pem"
)

func signingKeyPath(userSpace space.Space) string {
	return filepath.Join(userSpace.AIPath(), "keys", signingKeyName)
}

// loadSigningKey reads the user's private key.
func loadSigningKey(userSpace space.Space) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(signingKeyPath(userSpace))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || len(block.Bytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key at %s is unreadable", signingKeyPath(userSpace))
	}
	return ed25519.NewKeyFromSeed(block.Bytes), nil
}

func runKeysGenerate(name string) error {
	e, err := setupTrust("")
	if err != nil {
		return err
	}
	userSpace := userSpaceOf(e.spaces)
	keyPath := signingKeyPath(userSpace)
	if _, err := os.Stat(keyPath); err == nil {
		return fmt.Errorf("signing key already exists at %s", keyPath)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv.Seed()})
	if err := os.WriteFile(keyPath, privPEM, 0o600); err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	if err := os.WriteFile(filepath.Join(filepath.Dir(keyPath), publicKeyName), pubPEM, 0o644); err != nil {
		return err
	}

	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "local"
	}
	id, err := e.keys.Trust(userSpace, name, pub)
	if err != nil {
		return err
	}
	fmt.Printf("generated signing key %s (%s)\n", id.Fingerprint, keyPath)
	return nil
}

func runKeysTrust(projectDir, pemPath, name string, toProject bool) error {
	e, err := setupTrust(projectDir)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(data)
	if block == nil || len(block.Bytes) != ed25519.PublicKeySize {
		return fmt.Errorf("%s is not an ed25519 public key PEM", pemPath)
	}
	pub := ed25519.PublicKey(block.Bytes)

	target := userSpaceOf(e.spaces)
	if toProject {
		target = e.spaces[0]
	}
	if name == "" {
		name = filepath.Base(pemPath)
	}
	id, err := e.keys.Trust(target, name, pub)
	if err != nil {
		return err
	}
	fmt.Printf("trusted %s as %q in %s space\n", id.Fingerprint, name, target)
	return nil
}
