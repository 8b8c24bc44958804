// Package idutil generates deterministic identifiers used for idempotent
// order submission.
package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// digestHexLen is the number of hex characters kept from the sha256 sum,
// matching the source's 24-hex-character (12-byte) client order id.
const digestHexLen = 24

// MakeClientOrderID deterministically derives a client order id from the
// fields that define an order's identity: strategy, symbol, side, the
// signal's timestamp in nanoseconds, and a caller-supplied nonce (for entry
// orders the signal payload's "nonce" field, or the event type when that is
// absent; for protective stops the position id). Submitting the same inputs twice, as
// happens whenever ExecutionService retries after a crash or a bus
// redelivery, yields the same id, which is what lets the order store treat
// resubmission as a no-op (I2, spec.md §9's at-least-once requirement).
//
// No library in the dependency set offers deterministic keyed hashing —
// google/uuid only produces random v4 identifiers — so this is the one
// place the pipeline reaches for the standard library's crypto/sha256
// instead of a pack dependency; see DESIGN.md.
func MakeClientOrderID(strategy, symbol, side string, timestampNS int64, nonce string) string {
	material := fmt.Sprintf("%s|%s|%s|%d|%s", strategy, symbol, side, timestampNS, nonce)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:digestHexLen]
}
