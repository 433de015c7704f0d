package mediacache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// KeyPrefix namespaces cache keys in Redis.
const KeyPrefix = "sensboxd:relay:media"

// Key returns the Redis key for u. Scheme and host are case-folded and the
// query is sorted, so equivalent URLs share an entry. The URL is hashed to
// bound key length.
func Key(u *url.URL) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.Query().Encode())
	}

	sum := sha256.Sum256([]byte(b.String()))
	return KeyPrefix + ":" + hex.EncodeToString(sum[:])
}
