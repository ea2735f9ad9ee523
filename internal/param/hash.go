package param

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSnapshot is the domain prefix for snapshot content digests.
// Version suffix enables future algorithm migration.
const DomainSnapshot = "paramgraph/snapshot/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotDigest computes the content digest of s.
// The digest covers categories, provenance and diagnostics only, so two
// exports of the same graph state share a digest regardless of their
// version and generatedAt stamps.
func SnapshotDigest(s *Snapshot) (string, error) {
	tree, err := snapshotTree(s, false)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: %w", err)
	}
	canonical, err := MarshalCanonical(tree)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
