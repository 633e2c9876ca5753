// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// KeyGUID identifies an encryption key. The zero GUID selects the default key.
type KeyGUID [4]uint32

// IsZero reports whether g is the default-key GUID.
func (g KeyGUID) IsZero() bool {
	return g == KeyGUID{}
}

// String returns the engine form: four uppercase 8-digit hex groups without separators.
func (g KeyGUID) String() string {
	return fmt.Sprintf("%08X%08X%08X%08X", g[0], g[1], g[2], g[3])
}

// UUID converts g to an RFC 4122 value, each component big-endian.
func (g KeyGUID) UUID() uuid.UUID {
	var u uuid.UUID
	for i, v := range g {
		binary.BigEndian.PutUint32(u[i*4:], v)
	}

	return u
}

// MarshalText implements encoding.TextMarshaler.
func (g KeyGUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *KeyGUID) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyGUID(string(text))
	if err != nil {
		return err
	}

	*g = parsed
	return nil
}

// KeyGUIDFromUUID converts an RFC 4122 value to a key GUID.
func KeyGUIDFromUUID(u uuid.UUID) KeyGUID {
	var g KeyGUID
	for i := range g {
		g[i] = binary.BigEndian.Uint32(u[i*4:])
	}

	return g
}

// ParseKeyGUID parses either the 32-digit engine form or a dashed UUID.
func ParseKeyGUID(s string) (KeyGUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KeyGUID{}, nil
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return KeyGUID{}, fmt.Errorf("%w: key guid %q: %w", ErrInvalidEncoding, s, err)
	}

	return KeyGUIDFromUUID(u), nil
}

// KeyProvider resolves raw AES-256 keys by GUID.
// Missing keys must be reported with ErrKeyNotFound.
type KeyProvider interface {
	Key(guid KeyGUID) ([]byte, error)
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(guid KeyGUID) ([]byte, error)

// Key implements KeyProvider.
func (f KeyProviderFunc) Key(guid KeyGUID) ([]byte, error) {
	return f(guid)
}

// KeyRing is an in-memory KeyProvider safe for concurrent use.
type KeyRing struct {
	keys map[KeyGUID][]byte
	mu   sync.RWMutex
}

// NewKeyRing returns an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[KeyGUID][]byte)}
}

// SingleKey returns a key ring holding key under the default GUID.
func SingleKey(key []byte) (*KeyRing, error) {
	ring := NewKeyRing()
	if err := ring.Add(KeyGUID{}, key); err != nil {
		return nil, err
	}

	return ring, nil
}

// Add registers key under guid. Keys must be 32 bytes.
func (r *KeyRing) Add(guid KeyGUID, key []byte) error {
	if len(key) != aesKeySize {
		return fmt.Errorf("%w: key for %s has %d bytes, want %d", ErrDecryptionFailed, guid, len(key), aesKeySize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[guid] = append([]byte(nil), key...)
	return nil
}

// Key implements KeyProvider.
func (r *KeyRing) Key(guid KeyGUID) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, guid)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, guid)
	}

	return key, nil
}

// resolveKey asks provider for guid, mapping a nil provider to ErrKeyNotFound.
func resolveKey(provider KeyProvider, guid KeyGUID) ([]byte, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: %s (no key provider)", ErrKeyNotFound, guid)
	}

	key, err := provider.Key(guid)
	if err != nil {
		return nil, err
	}
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("%w: key for %s has %d bytes, want %d", ErrDecryptionFailed, guid, len(key), aesKeySize)
	}

	return key, nil
}
