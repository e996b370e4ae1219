// Package ident derives stable article identifiers from canonical names.
//
// Identifiers are name-based UUIDs (version 5, DNS namespace). Any process
// computing the identifier for the same name gets the same value, so
// concurrent writers agree on identity without coordinating.
package ident

import "github.com/google/uuid"

// Assign returns the identifier for name. It is a pure function of name.
func Assign(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// Valid reports whether id has the shape of an assigned identifier.
func Valid(id string) bool {
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 5
}
