package cache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// modifiersKey domain-separates modifier hashes from any other use of
// BLAKE3 in the process.
var modifiersKey = [32]byte{'i', 'p', 'x', '-', 'm', 'o', 'd', 'i', 'f', 'i', 'e', 'r', 's', '-', 'v', '1'}

// encMode is core deterministic CBOR: map keys are sorted, so two maps with
// the same pairs encode to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
}

// Fingerprint returns the cache key for a resolved id and its modifiers.
// The key is hex: 8 bytes of xxhash64 over the id followed by 16 bytes of
// keyed BLAKE3 over the deterministic CBOR encoding of modifiers. Modifier
// insertion order never affects the result.
func Fingerprint(id string, modifiers map[string]string) (string, error) {
	if modifiers == nil {
		modifiers = map[string]string{}
	}
	encoded, err := encMode.Marshal(modifiers)
	if err != nil {
		return "", fmt.Errorf("failed to encode modifiers: %w", err)
	}

	hasher, err := blake3.NewKeyed(modifiersKey[:])
	if err != nil {
		return "", fmt.Errorf("failed to initialize hasher: %w", err)
	}
	hasher.Write(encoded)

	var key [24]byte
	binary.BigEndian.PutUint64(key[:8], xxhash.Sum64String(id))
	copy(key[8:], hasher.Sum(nil)[:16])
	return hex.EncodeToString(key[:]), nil
}
