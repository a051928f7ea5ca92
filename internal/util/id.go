package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/oklog/ulid/v2"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewEID returns a row id. ULIDs sort by creation time, which keeps freshly
// added rows grouped when a backend lists them by id.
func NewEID() string {
	return strings.ToLower(ulid.Make().String())
}
