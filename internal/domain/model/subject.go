// Package model contains domain models passed between layers.
package model

import (
	"regexp"
	"strings"
)

// SubjectKind tells handles apart from wallet addresses.
type SubjectKind string

// Subject kinds.
const (
	KindHandle  SubjectKind = "handle"
	KindAddress SubjectKind = "address"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	handlePattern  = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
)

// NormalizeSubject canonicalizes a subject identifier: surrounding space and a
// leading "@" are dropped and the result is lowercased, since both handles and
// hex addresses are case-insensitive. ok is false when nothing usable remains.
func NormalizeSubject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	return s, true
}

// KindOf classifies an identifier. Anything that is not an address is a handle.
func KindOf(subject string) SubjectKind {
	if IsAddress(subject) {
		return KindAddress
	}
	return KindHandle
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsHandle reports whether s is a syntactically valid social handle.
func IsHandle(s string) bool {
	return handlePattern.MatchString(s)
}
