package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ChangeKind classifies what a fetched announcement means relative to what
// is already stored.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeUpdated
	ChangeUnchanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "NEW"
	case ChangeUpdated:
		return "UPDATED"
	}
	return "UNCHANGED"
}

// ContentHash fingerprints the identity fields of an announcement: agency,
// normalized title and canonical URL. Whitespace and tracking-parameter noise
// is normalized out first so a cosmetic reflow of the source page does not
// register as a change.
func ContentHash(agencyID, title, canonicalURL string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(normalizeSpace(agencyID))))
	h.Write([]byte{0})
	h.Write([]byte(normalizeSpace(title)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalURL))
	return hex.EncodeToString(h.Sum(nil))
}

// BodyHash fingerprints the announcement body text. A body change with an
// unchanged identity hash is what distinguishes UPDATED from NEW.
func BodyHash(bodyText string) string {
	h := sha256.Sum256([]byte(normalizeSpace(bodyText)))
	return hex.EncodeToString(h[:])
}

// DetectChange compares fresh hashes against the stored pair. Empty stored
// hashes mean the announcement was never seen.
func DetectChange(storedContentHash, storedBodyHash, contentHash, bodyHash string) ChangeKind {
	if storedContentHash == "" {
		return ChangeNew
	}
	if storedContentHash == contentHash && storedBodyHash == bodyHash {
		return ChangeUnchanged
	}
	return ChangeUpdated
}
