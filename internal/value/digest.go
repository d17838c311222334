package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainState = "statekeeper/state/v1"
	DomainTrace = "statekeeper/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the content digest of a state snapshot. Two structurally
// equal objects always produce the same digest regardless of map order.
func Digest(obj Object) (string, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// DigestBytes hashes already-canonical bytes under domain.
func DigestBytes(domain string, canonical []byte) string {
	return hashWithDomain(domain, canonical)
}
