// Package ident parses and produces the 128-bit identifiers used for jobs and
// runs.
package ident

import (
	"strings"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/oklog/ulid/v2"
)

var (
	ErrEmpty   = errors.New("no identifier provided", j.C("ERR_2e7a9c04b5d1f638"))
	ErrInvalid = errors.New("invalid identifier", j.C("ERR_d80b3f6e1a92c547"))
)

// ID is a 128-bit identifier.
type ID = uuid.UUID

// Nil is the zero identifier.
var Nil = uuid.Nil

// New returns a random identifier.
func New() ID {
	return uuid.New()
}

// Parse accepts the canonical UUID text form and, for identifiers minted by
// ULID generators, the 26 character ULID form.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Nil, ErrEmpty
	}

	id, err := uuid.Parse(s)
	if err == nil {
		return id, nil
	}

	if len(s) == ulid.EncodedSize {
		u, uerr := ulid.ParseStrict(s)
		if uerr == nil {
			return ID(u), nil
		}
	}

	return Nil, errors.Wrap(ErrInvalid, err.Error(), j.KV("identifier", s))
}

// MustParse is like Parse but panics on error. It is intended for tests and
// static identifiers.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Key returns the raw bytes of id, the key used for ring lookups.
func Key(id ID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}
