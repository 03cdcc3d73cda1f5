package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest produces a deterministic digest for an arbitrary JSON-serializable
// cache key. encoding/json sorts map keys, so equal maps digest equally
// regardless of insertion order.
func Digest(key any) (string, error) {
	// Strings are used verbatim as key material; everything else is
	// canonicalized through JSON.
	var material []byte
	switch k := key.(type) {
	case string:
		material = []byte(k)
	case []byte:
		material = k
	default:
		b, err := json.Marshal(key)
		if err != nil {
			return "", fmt.Errorf("cache: marshal key: %w", err)
		}
		material = b
	}

	sum := blake3.Sum256(material)
	return hex.EncodeToString(sum[:16]), nil
}
