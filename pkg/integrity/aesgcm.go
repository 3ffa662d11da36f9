package integrity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	NonceSize = 12
	keySize   = 32
)

// DefaultKeyName is the key store entry backing backup encryption.
const DefaultKeyName = "backup-master"

var hkdfInfo = []byte("axspoof backup v1")

// ErrDecrypt is returned for any ciphertext that fails to open: wrong key,
// truncated input or tampered bytes.
var ErrDecrypt = errors.New("integrity: decryption failed")

// Sealer encrypts with AES-256-GCM under a data key derived by HKDF-SHA256
// from a master key held in a KeyStore. Output is nonce || ciphertext || tag.
type Sealer struct {
	keys    KeyStore
	keyName string
	random  io.Reader
}

func NewSealer(keys KeyStore, keyName string, random io.Reader) *Sealer {
	if keyName == "" {
		keyName = DefaultKeyName
	}
	if random == nil {
		random = rand.Reader
	}
	return &Sealer{
		keys:    keys,
		keyName: keyName,
		random:  random,
	}
}

// aead builds the cipher. Only encryption may create the master key.
func (s *Sealer) aead(create bool) (cipher.AEAD, error) {
	get := s.keys.GetKey
	if create {
		get = s.keys.GetOrCreateKey
	}
	master, err := get(s.keyName)
	if err != nil {
		return nil, err
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("could not derive data key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext, authenticating additionalData alongside it.
func (s *Sealer) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := s.aead(true)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("could not generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt opens a blob produced by Encrypt with the same additionalData. A
// missing master key fails with ErrKeyUnavailable and is not recreated.
func (s *Sealer) Decrypt(blob, additionalData []byte) (plaintext []byte, err error) {
	gcm, err := s.aead(false)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	defer func() {
		if r := recover(); r != nil {
			plaintext = nil
			err = fmt.Errorf("%w: %v", ErrDecrypt, r)
		}
	}()
	plaintext, err = gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
