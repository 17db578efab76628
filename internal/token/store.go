package token

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Store persists a single credential record. Writes replace the whole record
// atomically; concurrent readers never observe a partial write.
type Store interface {
	Load() (Credential, error)
	Save(Credential) error
	Clear() error
}

// FileStore keeps the credential in a JSON file, replaced via write-to-temp
// plus rename. File mode is 0600. When a 32-byte key is supplied the record
// is sealed with ChaCha20-Poly1305 before hitting disk.
type FileStore struct {
	path string
	key  []byte // nil = plaintext JSON
	mu   sync.RWMutex
}

// NewFileStore creates a store backed by path. keyHex is optional; when set it
// must decode to exactly 32 bytes.
func NewFileStore(path, keyHex string) (*FileStore, error) {
	s := &FileStore{path: path}
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("decoding token encryption key: %w", err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("token encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
		}
		s.key = key
	}
	return s, nil
}

func (s *FileStore) Load() (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, fmt.Errorf("reading token file: %w", err)
	}
	if s.key != nil {
		data, err = s.open(data)
		if err != nil {
			// Undecryptable file reads as absent rather than wedging auth.
			return Credential{}, ErrNoCredential
		}
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		// Corrupt file reads as absent, matching a missing file.
		return Credential{}, ErrNoCredential
	}
	if c.AccessToken == "" {
		return Credential{}, ErrNoCredential
	}
	return c, nil
}

func (s *FileStore) Save(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if s.key != nil {
		data, err = s.seal(data)
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("token file too short")
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, box, nil)
}

// MemStore is an in-memory Store for tests and ephemeral setups.
type MemStore struct {
	mu   sync.RWMutex
	cred Credential
	set  bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Load() (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return Credential{}, ErrNoCredential
	}
	return s.cred, nil
}

func (s *MemStore) Save(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.set = c, true
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred, s.set = Credential{}, false
	return nil
}
