// Package checksum computes 64-bit integrity tokens over the canonical byte
// representation of wire payloads.
//
// A payload opts in by implementing Hashable. The Engine feeds the canonical
// bytes into a seeded xxhash64 digest. Tokens are only comparable between
// engines constructed with the same Seed: they detect accidental corruption
// or mis-encoding, they do not authenticate a peer.
package checksum

import (
	"crypto/rand"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// TokenSize is the length of an encoded token in bytes.
const TokenSize = 8

var (
	ErrTokenLength = errors.New("length mismatch for checksum", j.C("ERR_3d1e0f7a9b52c864"))
	ErrMismatch    = errors.New("checksum mismatch for payload", j.C("ERR_a47c2b90e1d8f356"))
	ErrEncoding    = errors.New("canonical encoding failed", j.C("ERR_5f08d9c3b6a1e247"))
)

// Hashable is implemented by payloads that can be checksummed.
//
// AppendCanonical appends the semantically relevant fields of the payload to b
// in a fixed order. It must exclude any checksum field the payload carries.
type Hashable interface {
	AppendCanonical(b []byte) ([]byte, error)
}

// Seed keys the checksum digest.
type Seed uint64

// RandomSeed returns a seed read from crypto/rand.
func RandomSeed() (Seed, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, errors.Wrap(err, "read random seed")
	}
	return Seed(binary.BigEndian.Uint64(b[:])), nil
}

// MismatchError is returned by Verify when the computed checksum differs from
// the supplied one. It matches ErrMismatch.
type MismatchError struct {
	Computed uint64
	Got      uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for payload, computed: %d got: %d", e.Computed, e.Got)
}

func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

// AsMismatch returns the MismatchError in err's chain.
func AsMismatch(err error) (*MismatchError, bool) {
	var me *MismatchError
	if stderrors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// Engine reduces canonical bytes to checksums. It is safe for concurrent use.
type Engine struct {
	seed uint64

	// digests is a pool of reusable seeded digests.
	digests sync.Pool
}

// New returns an engine keyed with seed.
func New(seed Seed) *Engine {
	e := &Engine{seed: uint64(seed)}
	e.digests.New = func() any {
		return xxhash.NewWithSeed(e.seed)
	}
	return e
}

// Seed returns the seed the engine was constructed with.
func (e *Engine) Seed() Seed {
	return Seed(e.seed)
}

// Sum returns the checksum of p.
func (e *Engine) Sum(p Hashable) (uint64, error) {
	b, err := p.AppendCanonical(nil)
	if err != nil {
		return 0, errors.Wrap(err, "canonical bytes")
	}
	return e.sum(b), nil
}

func (e *Engine) sum(b []byte) uint64 {
	d := e.digests.Get().(*xxhash.Digest)
	defer func() {
		d.ResetWithSeed(e.seed)
		e.digests.Put(d)
	}()

	_, _ = d.Write(b)
	return d.Sum64()
}

// Token returns the encoded checksum of p.
func (e *Engine) Token(p Hashable) ([]byte, error) {
	sum, err := e.Sum(p)
	if err != nil {
		return nil, err
	}
	return Encode(sum), nil
}

// Verify checks token against the checksum of p. The token length is checked
// before any hashing takes place.
func (e *Engine) Verify(p Hashable, token []byte) error {
	got, err := Decode(token)
	if err != nil {
		return err
	}
	computed, err := e.Sum(p)
	if err != nil {
		return err
	}
	if computed != got {
		return &MismatchError{Computed: computed, Got: got}
	}
	return nil
}

// Encode returns the big-endian token for sum.
func Encode(sum uint64) []byte {
	b := make([]byte, TokenSize)
	binary.BigEndian.PutUint64(b, sum)
	return b
}

// Decode returns the checksum held in a big-endian token.
func Decode(token []byte) (uint64, error) {
	if len(token) != TokenSize {
		return 0, ErrTokenLength
	}
	return binary.BigEndian.Uint64(token), nil
}
