package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashKey derives a stable cache key from any sequence of parts. Structurally
// equal logical keys (artist/album pairs, provider query tuples) always map
// to the same slot. Parts that have no natural string form fall back to a
// type-tagged rendering so hashing never fails.
func HashKey(parts ...any) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(stringify(part))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func stringify(part any) string {
	switch v := part.(type) {
	case string:
		return v
	case []byte:
		return hex.EncodeToString(v)
	case fmt.Stringer:
		return v.String()
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%T=%v", v, v)
	}
}
