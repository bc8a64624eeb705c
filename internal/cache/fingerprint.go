package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
)

var fingerprintFolder = cases.Fold()

// Fingerprint derives a stable cache key from the fields that identify
// a company to the providers. Case, surrounding whitespace, and interior
// whitespace runs do not change the key; the domain is stripped of its
// scheme and www prefix so equivalent spellings collide.
func Fingerprint(name, state, domain string) string {
	h := sha256.New()
	h.Write([]byte(normalize(name)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(state)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeDomain(domain)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	s = fingerprintFolder.String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

func normalizeDomain(domain string) string {
	d := strings.TrimSpace(strings.ToLower(domain))
	for _, prefix := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, prefix)
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, "/")
}
