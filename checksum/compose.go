package checksum

import (
	"unicode/utf8"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// AppendString appends the UTF-8 bytes of s. Strings that are not valid UTF-8
// cannot be put on the wire and fail with ErrEncoding.
func AppendString(b []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return b, errors.Wrap(ErrEncoding, "invalid utf-8 string", j.KV("len", len(s)))
	}
	return append(b, s...), nil
}

// AppendOptional appends the canonical bytes of v. An absent value contributes
// zero bytes.
func AppendOptional[T Hashable](b []byte, v *T) ([]byte, error) {
	if v == nil {
		return b, nil
	}
	return (*v).AppendCanonical(b)
}

// List is a sequence of hashable elements. Its canonical bytes are the
// concatenation of each element's canonical bytes in order.
type List[T Hashable] []T

func (l List[T]) AppendCanonical(b []byte) ([]byte, error) {
	var err error
	for i, v := range l {
		b, err = v.AppendCanonical(b)
		if err != nil {
			return b, errors.Wrap(err, "list element", j.KV("index", i))
		}
	}
	return b, nil
}

// Strings is a sequence of strings, concatenated in order.
type Strings []string

func (s Strings) AppendCanonical(b []byte) ([]byte, error) {
	var err error
	for i, v := range s {
		b, err = AppendString(b, v)
		if err != nil {
			return b, errors.Wrap(err, "string element", j.KV("index", i))
		}
	}
	return b, nil
}

// Bytes is an opaque byte field.
type Bytes []byte

func (p Bytes) AppendCanonical(b []byte) ([]byte, error) {
	return append(b, p...), nil
}
