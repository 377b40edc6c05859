package ident

import (
	"testing"

	"github.com/google/uuid"
	"github.com/luno/jettison/jtest"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	u := ulid.MustParse("01ARZ3NDEKTSV4RRFFQ69G5FAV")

	testCases := []struct {
		name   string
		in     string
		expID  ID
		expErr error
	}{
		{name: "empty", expErr: ErrEmpty},
		{name: "whitespace", in: "  ", expErr: ErrEmpty},
		{name: "uuid",
			in:    "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			expID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		},
		{name: "uuid without hyphens",
			in:    "6ba7b8109dad11d180b400c04fd430c8",
			expID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		},
		{name: "ulid",
			in:    "01ARZ3NDEKTSV4RRFFQ69G5FAV",
			expID: ID(u),
		},
		{name: "garbage", in: "not-an-identifier", expErr: ErrInvalid},
		{name: "bad ulid", in: "01ARZ3NDEKTSV4RRFFQ69G5FAU!", expErr: ErrInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Parse(tc.in)
			jtest.Assert(t, tc.expErr, err)
			assert.Equal(t, tc.expID, id)
		})
	}
}

func TestKey(t *testing.T) {
	id := New()
	k := Key(id)
	assert.Equal(t, id[:], k)

	k[0] ^= 0xff
	assert.NotEqual(t, id[:], k, "key must be a copy")
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("") })
}
