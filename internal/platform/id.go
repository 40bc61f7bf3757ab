package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const aliasAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const aliasLength = 10

// NewID returns a UUID string used as the primary key for builds,
// executions, and API keys.
func NewID() string {
	return uuid.New().String()
}

// NewAlias generates a short random device alias with the given prefix,
// e.g. "dev_x7k2m9qp1a". Used when a device enrolls without a caller-chosen
// alias.
func NewAlias(prefix string) string {
	b := make([]byte, aliasLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = aliasAlphabet[b[i]%byte(len(aliasAlphabet))]
	}
	return prefix + string(b)
}
