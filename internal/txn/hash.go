package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRecord separates record hashes from any other SHA-256 use.
const DomainRecord = "txsync/record/v1"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the hex SHA-256 of the record's canonical encoding.
// Identical server snapshots hash identically, which lets the journal show
// when a pushed update carried nothing new.
func ContentHash(r Record) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("ContentHash: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}
