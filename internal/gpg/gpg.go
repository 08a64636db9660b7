// Package gpg verifies detached PGP signatures over uploaded archives
// using gopenpgp v2.
package gpg

import (
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// Sentinel errors
var (
	ErrNoKeys           = errors.New("no keys in keyring")
	ErrVerifyFailed     = errors.New("signature verification failed")
	ErrEmptySignature   = errors.New("signature cannot be empty")
	ErrEmptyKeyMaterial = errors.New("key material cannot be empty")
)

// KeyRing verifies detached signatures against a set of trusted keys.
type KeyRing interface {
	VerifyDetached(message []byte, signature []byte) error
	AddKeyFromArmored(armored string) error
}

// RealKeyRing implements KeyRing using gopenpgp v2 for actual
// cryptographic verification.
type RealKeyRing struct {
	keyRing *crypto.KeyRing
}

// NewKeyRing creates an empty keyring.
func NewKeyRing() *RealKeyRing {
	return &RealKeyRing{}
}

// NewKeyRingFromFile creates a keyring holding the armored public key
// read from path.
func NewKeyRingFromFile(path string) (*RealKeyRing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	kr := NewKeyRing()
	if err := kr.AddKeyFromArmored(string(data)); err != nil {
		return nil, err
	}
	return kr, nil
}

// AddKeyFromArmored adds an armored public key to the keyring.
func (rk *RealKeyRing) AddKeyFromArmored(armored string) error {
	if armored == "" {
		return ErrEmptyKeyMaterial
	}
	key, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return fmt.Errorf("failed to parse key: %w", err)
	}
	if rk.keyRing == nil {
		kr, err := crypto.NewKeyRing(key)
		if err != nil {
			return fmt.Errorf("failed to create keyring: %w", err)
		}
		rk.keyRing = kr
		return nil
	}
	if err := rk.keyRing.AddKey(key); err != nil {
		return fmt.Errorf("failed to add key: %w", err)
	}
	return nil
}

// VerifyDetached checks a detached signature over the archive bytes.
// Armored signatures are tried first; raw binary signatures fall back.
func (rk *RealKeyRing) VerifyDetached(message []byte, signature []byte) error {
	if rk.keyRing == nil {
		return ErrNoKeys
	}
	if len(signature) == 0 {
		return ErrEmptySignature
	}

	plainMessage := crypto.NewPlainMessage(message)

	pgpSignature, err := crypto.NewPGPSignatureFromArmored(string(signature))
	if err != nil {
		// Try binary format if armored fails
		pgpSignature = crypto.NewPGPSignature(signature)
	}

	if err := rk.keyRing.VerifyDetached(plainMessage, pgpSignature, crypto.GetUnixTime()); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return nil
}
