// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Fingerprint returns the sha256 hex digest of v's RFC 8785 canonical JSON.
// Equal records always share a fingerprint regardless of map or key order.
func Fingerprint(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding for fingerprint: %w", err)
	}
	return DigestJSON(raw)
}

// DigestJSON canonicalizes raw JSON and returns its sha256 hex digest.
func DigestJSON(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing JSON: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
