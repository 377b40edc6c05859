package checksum

import (
	"fmt"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	Key   string
	Value string
}

func (p pair) AppendCanonical(b []byte) ([]byte, error) {
	b, err := AppendString(b, p.Key)
	if err != nil {
		return b, err
	}
	return AppendString(b, p.Value)
}

type failing struct{}

func (failing) AppendCanonical(b []byte) ([]byte, error) {
	return b, errors.Wrap(ErrEncoding, "always")
}

func TestSumDeterministic(t *testing.T) {
	e := New(42)

	s1, err := e.Sum(Strings{"foo", "bar"})
	jtest.RequireNil(t, err)
	for i := 0; i < 100; i++ {
		s2, err := e.Sum(Strings{"foo", "bar"})
		jtest.RequireNil(t, err)
		require.Equal(t, s1, s2)
	}
}

func TestSumSeeded(t *testing.T) {
	p := Strings{"foo"}

	s1, err := New(1).Sum(p)
	jtest.RequireNil(t, err)
	s2, err := New(2).Sum(p)
	jtest.RequireNil(t, err)
	s3, err := New(1).Sum(p)
	jtest.RequireNil(t, err)

	assert.NotEqual(t, s1, s2)
	assert.Equal(t, s1, s3)
}

func TestSumDistinct(t *testing.T) {
	e := New(7)
	seen := make(map[uint64]string)
	for i := 0; i < 10_000; i++ {
		p := Strings{fmt.Sprintf("10.0.%d.%d:7000", i/256, i%256)}
		sum, err := e.Sum(p)
		jtest.RequireNil(t, err)
		prev, ok := seen[sum]
		require.False(t, ok, "collision between %q and %q", prev, p[0])
		seen[sum] = p[0]
	}
}

func TestComposition(t *testing.T) {
	e := New(99)

	testCases := []struct {
		name string
		a, b Hashable
	}{
		{name: "list is concatenation of elements",
			a: List[pair]{{"k1", "v1"}, {"k2", "v2"}},
			b: Strings{"k1v1k2v2"},
		},
		{name: "empty list is empty",
			a: List[pair]{},
			b: Bytes(nil),
		},
		{name: "strings equal bytes",
			a: Strings{"foo", "bar"},
			b: Bytes("foobar"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sa, err := e.Sum(tc.a)
			jtest.RequireNil(t, err)
			sb, err := e.Sum(tc.b)
			jtest.RequireNil(t, err)
			assert.Equal(t, sa, sb)
		})
	}
}

func TestAppendOptional(t *testing.T) {
	b, err := AppendOptional[pair]([]byte("x"), nil)
	jtest.RequireNil(t, err)
	assert.Equal(t, []byte("x"), b)

	b, err = AppendOptional([]byte("x"), &pair{Key: "k", Value: "v"})
	jtest.RequireNil(t, err)
	assert.Equal(t, []byte("xkv"), b)
}

func TestEncodingFailure(t *testing.T) {
	e := New(1)

	_, err := e.Sum(Strings{"ok", string([]byte{0xff, 0xfe})})
	jtest.Assert(t, ErrEncoding, err)

	_, err = e.Sum(List[failing]{{}})
	jtest.Assert(t, ErrEncoding, err)

	err = e.Verify(failing{}, make([]byte, TokenSize))
	jtest.Assert(t, ErrEncoding, err)
}

func TestTokenRoundTrip(t *testing.T) {
	token := Encode(0x0102030405060708)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, token)

	sum, err := Decode(token)
	jtest.RequireNil(t, err)
	assert.Equal(t, uint64(0x0102030405060708), sum)
}

func TestVerify(t *testing.T) {
	e := New(1234)
	p := Strings{"foo"}
	good, err := e.Token(p)
	jtest.RequireNil(t, err)

	testCases := []struct {
		name   string
		token  []byte
		expErr error
	}{
		{name: "valid", token: good},
		{name: "short", token: []byte("1234"), expErr: ErrTokenLength},
		{name: "long", token: []byte("123456789"), expErr: ErrTokenLength},
		{name: "empty", expErr: ErrTokenLength},
		{name: "mismatch", token: []byte("12345678"), expErr: ErrMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Verify(p, tc.token)
			jtest.Assert(t, tc.expErr, err)
		})
	}
}

func TestMismatchMessage(t *testing.T) {
	e := New(1234)
	p := Strings{"foo"}
	computed, err := e.Sum(p)
	jtest.RequireNil(t, err)

	err = e.Verify(p, []byte("12345678"))
	require.Error(t, err)

	got, err2 := Decode([]byte("12345678"))
	jtest.RequireNil(t, err2)
	assert.Equal(t,
		fmt.Sprintf("checksum mismatch for payload, computed: %d got: %d", computed, got),
		err.Error(),
	)
}

func TestRandomSeed(t *testing.T) {
	s1, err := RandomSeed()
	jtest.RequireNil(t, err)
	s2, err := RandomSeed()
	jtest.RequireNil(t, err)
	assert.NotEqual(t, s1, s2)
	assert.Equal(t, s1, New(s1).Seed())
}

func TestAsMismatch(t *testing.T) {
	e := New(1)
	err := e.Verify(Strings{"foo"}, []byte("12345678"))

	me, ok := AsMismatch(errors.Wrap(err, "wrapped"))
	require.True(t, ok)
	assert.Equal(t, uint64(0x3132333435363738), me.Got)

	_, ok = AsMismatch(ErrTokenLength)
	assert.False(t, ok)
}
