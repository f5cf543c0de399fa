// Package ids derives record identifiers.
//
// Random ids are used for records created by callers. Derived ids are stable
// for a given natural key, which makes repeated writes of the same logical
// fact land on the same record.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

var namespace = uuid.MustParse("8f1c6c1e-3b5e-4f0a-9d55-6a1c2f4b7e90")

// New returns a random record id.
func New() string {
	return uuid.NewString()
}

// Derive returns a stable id for the given key parts.
func Derive(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// ForEmail returns the stable user id for an email address. Case and
// surrounding whitespace are ignored.
func ForEmail(email string) string {
	return Derive("user-email", NormalizeEmail(email))
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
