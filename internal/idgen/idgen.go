// Package idgen generates identifiers for decisions, alerts and history rows.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix + 24 random hex chars, e.g. "dec_9f...".
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// AlertID returns "alert_<unix-ms>_<16 hex>". The millisecond component
// keeps IDs roughly sortable by creation time.
func AlertID(now time.Time) string {
	return fmt.Sprintf("alert_%d_%s", now.UnixMilli(), Hex(8))
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
