package store

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// errSealKeyMissing is returned when a sealed row is read without a key.
var errSealKeyMissing = errors.New("entry is sealed and no seal key is configured")

// sealer encrypts the content of tiers marked SealAtRest.
// Ciphertext layout: nonce || XChaCha20-Poly1305(content), with the entry id
// as additional data so a sealed blob cannot be moved to another row.
type sealer struct {
	aead cipher.AEAD
}

// SetSealKey enables at-rest sealing. key must be 32 bytes.
func (db *DB) SetSealKey(key []byte) error {
	if len(key) == 0 {
		db.sealer = nil
		return nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	db.sealer = &sealer{aead: aead}
	return nil
}

// Sealing reports whether a seal key is configured.
func (db *DB) Sealing() bool { return db.sealer != nil }

func (s *sealer) seal(id string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(id)), nil
}

func (s *sealer) open(id string, blob []byte) ([]byte, error) {
	if s == nil {
		return nil, errSealKeyMissing
	}
	ns := s.aead.NonceSize()
	if len(blob) < ns {
		return nil, fmt.Errorf("sealed content too short")
	}
	plain, err := s.aead.Open(nil, blob[:ns], blob[ns:], []byte(id))
	if err != nil {
		return nil, fmt.Errorf("open sealed content: %w", err)
	}
	return plain, nil
}
