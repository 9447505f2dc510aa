package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentKey derives a key from the full content of a request, so two requests
// share an entry only when every part matches after whitespace normalization.
func ContentKey(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.Join(strings.Fields(p), " ")))
		h.Write([]byte{0})
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// ResourceKey names a lookup of a single remote resource.
func ResourceKey(namespace, id string) string {
	return namespace + ":" + strings.ToLower(strings.TrimSpace(id))
}
