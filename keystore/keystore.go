// Package keystore provides a reference, non-production implementation of
// the busapi.Keystore capability (spec.md §6, §11 domain stack): envelope
// encryption via nacl/secretbox, per-label symmetric key derivation via
// HKDF, and the persistence-directory/auto-persist surface the bus
// threads through unopened. The bus core never interprets these calls;
// this package exists only so the contract has a runnable collaborator to
// exercise in tests and the demo CLI — a production node would swap this
// for a real keystore (the out-of-scope collaborator spec.md §1 names).
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/rskv-p/nodebus/busapi"
)

// RandomMasterKey generates fresh crypto/rand-sourced master key material,
// for development runs that don't pass --master-key.
func RandomMasterKey() []byte {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return key
}

// DecodeHexKey parses a hex-encoded master key, as accepted by the serve
// command's --master-key flag.
func DecodeHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode hex key: %w", err)
	}
	return key, nil
}

const (
	// StateLocked means no master secret has been supplied yet.
	StateLocked = 0
	// StateUnlocked means the keystore can derive keys and encrypt/decrypt.
	StateUnlocked = 1
)

// Keystore is a demo busapi.Keystore: a single master secret from which
// every label's symmetric key is derived with HKDF-SHA256, and envelopes
// are sealed with nacl/secretbox under the label's key.
type Keystore struct {
	mu sync.Mutex

	master []byte

	labelKeys      map[string][]byte
	labelMapping   []byte
	localNodeInfo  []byte
	persistenceDir string
	autoPersist    bool
}

var _ busapi.Keystore = (*Keystore)(nil)

// New builds a Keystore unlocked with master (at least 32 bytes of
// entropy). A nil/short master still works but derived keys are weak;
// callers intending real use should supply crypto/rand-sourced material.
func New(master []byte) *Keystore {
	return &Keystore{
		master:    append([]byte(nil), master...),
		labelKeys: make(map[string][]byte),
	}
}

func (k *Keystore) deriveKey(label string) ([32]byte, error) {
	var key [32]byte
	h := hkdf.New(sha256.New, k.master, nil, []byte("nodebus-keystore:"+label))
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return key, fmt.Errorf("keystore: derive key for %q: %w", label, err)
	}
	return key, nil
}

// EnsureSymmetricKey derives (and caches) the symmetric key for keyName.
func (k *Keystore) EnsureSymmetricKey(keyName string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.labelKeys[keyName]; ok {
		return existing, nil
	}
	key, err := k.deriveKey(keyName)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), key[:]...)
	k.labelKeys[keyName] = out
	return out, nil
}

// envelope wire format: [2-byte label length][label][24-byte nonce][ciphertext].
// This is the package's own framing, not a claim of wire compatibility
// with any specific production envelope format (spec.md §1 scopes the real
// serialization/codec format out).
func (k *Keystore) EncryptWithEnvelope(data []byte, networkPublicKey []byte, profilePublicKeys [][]byte) ([]byte, error) {
	label := envelopeLabel(networkPublicKey, profilePublicKeys)

	k.mu.Lock()
	key, err := k.deriveKey(label)
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("keystore: nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], data, &nonce, &key)

	labelBytes := []byte(label)
	out := make([]byte, 2+len(labelBytes)+len(sealed))
	binary.BigEndian.PutUint16(out[:2], uint16(len(labelBytes)))
	copy(out[2:2+len(labelBytes)], labelBytes)
	copy(out[2+len(labelBytes):], sealed)
	return out, nil
}

// DecryptEnvelope reverses EncryptWithEnvelope: the label is read back out
// of the envelope so the caller does not need to re-supply the recipient
// keys used to seal it.
func (k *Keystore) DecryptEnvelope(eed []byte) ([]byte, error) {
	if len(eed) < 2 {
		return nil, fmt.Errorf("keystore: envelope too short")
	}
	labelLen := int(binary.BigEndian.Uint16(eed[:2]))
	if len(eed) < 2+labelLen+24 {
		return nil, fmt.Errorf("keystore: envelope truncated")
	}
	label := string(eed[2 : 2+labelLen])
	sealed := eed[2+labelLen:]

	k.mu.Lock()
	key, err := k.deriveKey(label)
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	out, ok := secretbox.Open(nil, sealed[24:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("keystore: decrypt failed: authentication mismatch")
	}
	return out, nil
}

func envelopeLabel(networkPublicKey []byte, profilePublicKeys [][]byte) string {
	h := sha256.New()
	h.Write(networkPublicKey)
	for _, pk := range profilePublicKeys {
		h.Write(pk)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// GetKeystoreState reports StateLocked or StateUnlocked.
func (k *Keystore) GetKeystoreState() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.master) == 0 {
		return StateLocked, nil
	}
	return StateUnlocked, nil
}

// GetKeystoreCaps reports which optional capabilities this implementation
// supports, for callers that probe before relying on a given operation.
func (k *Keystore) GetKeystoreCaps() (map[string]any, error) {
	return map[string]any{
		"envelope_encryption": true,
		"symmetric_keys":      true,
		"persistence":         true,
		"cipher":              "nacl/secretbox",
		"kdf":                 "hkdf-sha256",
	}, nil
}

// SetLabelMapping stores the opaque label-mapping blob; the bus core never
// interprets it, it is only threaded through to whatever reads it back.
func (k *Keystore) SetLabelMapping(mapping []byte) error {
	k.mu.Lock()
	k.labelMapping = append([]byte(nil), mapping...)
	autoPersist := k.autoPersist
	k.mu.Unlock()
	if autoPersist {
		return k.FlushState()
	}
	return nil
}

// SetLocalNodeInfo stores the opaque node-info blob.
func (k *Keystore) SetLocalNodeInfo(nodeInfo []byte) error {
	k.mu.Lock()
	k.localNodeInfo = append([]byte(nil), nodeInfo...)
	autoPersist := k.autoPersist
	k.mu.Unlock()
	if autoPersist {
		return k.FlushState()
	}
	return nil
}

// SetPersistenceDir points FlushState/auto-persist at dir, creating it if
// missing.
func (k *Keystore) SetPersistenceDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("keystore: persistence dir: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.persistenceDir = dir
	return nil
}

// EnableAutoPersist toggles whether SetLabelMapping/SetLocalNodeInfo flush
// to disk immediately.
func (k *Keystore) EnableAutoPersist(enabled bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.autoPersist = enabled
	return nil
}

// WipePersistence deletes everything under the configured persistence dir.
func (k *Keystore) WipePersistence() error {
	k.mu.Lock()
	dir := k.persistenceDir
	k.mu.Unlock()
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("keystore: wipe: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("keystore: wipe %s: %w", e.Name(), err)
		}
	}
	return nil
}

// FlushState persists the label mapping and node info blobs to the
// configured persistence dir, regardless of the auto-persist flag.
func (k *Keystore) FlushState() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.persistenceDir == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(k.persistenceDir, "label_mapping.cbor"), k.labelMapping, 0o600); err != nil {
		return fmt.Errorf("keystore: flush label mapping: %w", err)
	}
	if err := os.WriteFile(filepath.Join(k.persistenceDir, "node_info.cbor"), k.localNodeInfo, 0o600); err != nil {
		return fmt.Errorf("keystore: flush node info: %w", err)
	}
	return nil
}
