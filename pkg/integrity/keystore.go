package integrity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/golang/glog"
	"github.com/spf13/afero"
)

// MasterKeySize is the length in bytes of keys created by FileKeyStore.
const MasterKeySize = 32

var (
	ErrKeyUnavailable  = errors.New("integrity: key unavailable")
	ErrInvalidKeyName  = errors.New("integrity: invalid key name")
	ErrInvalidKeyBytes = errors.New("integrity: stored key is malformed")
)

// KeyStore hands out named master keys, creating them on first use.
// GetKey never creates and fails with ErrKeyUnavailable for a missing key.
type KeyStore interface {
	GetKey(name string) ([]byte, error)
	GetOrCreateKey(name string) ([]byte, error)
	DeleteKey(name string) error
}

var keyNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// FileKeyStore keeps one hex-encoded key per file in a directory.
type FileKeyStore struct {
	fs     afero.Fs
	dir    string
	random io.Reader

	mu sync.Mutex
}

func NewFileKeyStore(fs afero.Fs, dir string, random io.Reader) (*FileKeyStore, error) {
	if random == nil {
		random = rand.Reader
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create key directory: %w", err)
	}
	return &FileKeyStore{
		fs:     fs,
		dir:    dir,
		random: random,
	}, nil
}

func (k *FileKeyStore) pathFor(name string) (string, error) {
	if !keyNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}
	return filepath.Join(k.dir, name+".key"), nil
}

// readKey returns the stored key, or an error wrapping os.ErrNotExist.
func (k *FileKeyStore) readKey(name, p string) ([]byte, error) {
	data, err := afero.ReadFile(k.fs, p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	key, err := hex.DecodeString(string(data))
	if err != nil || len(key) != MasterKeySize {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyBytes, name)
	}
	return key, nil
}

func (k *FileKeyStore) GetKey(name string) ([]byte, error) {
	p, err := k.pathFor(name)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	key, err := k.readKey(name, p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no key named %q", ErrKeyUnavailable, name)
	}
	return key, err
}

func (k *FileKeyStore) GetOrCreateKey(name string) ([]byte, error) {
	p, err := k.pathFor(name)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	key, err := k.readKey(name, p)
	if !errors.Is(err, os.ErrNotExist) {
		return key, err
	}

	key = make([]byte, MasterKeySize)
	if _, err := io.ReadFull(k.random, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if err := afero.WriteFile(k.fs, p, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	glog.Infof("Created master key %q in %s", name, k.dir)
	return key, nil
}

func (k *FileKeyStore) DeleteKey(name string) error {
	p, err := k.pathFor(name)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not delete key %q: %w", name, err)
	}
	return nil
}
