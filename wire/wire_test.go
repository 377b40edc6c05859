package wire

import (
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/neuromancer/neuromancer/checksum"
)

func TestCanonicalBytes(t *testing.T) {
	run := &Identifier{UUID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"}

	testCases := []struct {
		name    string
		payload checksum.Hashable
	}{
		{name: "membership_change",
			payload: MembershipChange{
				Librarians: []string{"10.0.0.1:7000", "10.0.0.2:7000"},
				Checksum:   []byte("ignored!"),
			},
		},
		{name: "run_identifiers",
			payload: RunIdentifiers{RunIDs: []Identifier{
				{UUID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
				{UUID: "6ba7b811-9dad-11d1-80b4-00c04fd430c8"},
			}},
		},
		{name: "reduction",
			payload: Reduction{Key: "word", Values: []string{"1", "1", "2"}},
		},
		{name: "execution_command",
			payload: ExecutionCommand{RunID: run, Program: []byte("wc -l")},
		},
		{name: "execution_command_no_run",
			payload: ExecutionCommand{Program: []byte("wc -l")},
		},
		{name: "map_request",
			payload: MapRequest{
				Command: &ExecutionCommand{RunID: run, Program: []byte("wc"), Checksum: []byte("nested")},
				Data:    []Map{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
				Job:     &Identifier{UUID: "job"},
			},
		},
		{name: "reduction_result",
			payload: ReductionResult{RunID: run, Output: "42"},
		},
		{name: "run_progression",
			payload: RunProgression{Status: 2, TimeTaken: 1500},
		},
		{name: "remap_request",
			payload: RemapRequest{UUID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", From: "a:1", To: "b:2"},
		},
	}

	g := goldie.New(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.payload.AppendCanonical(nil)
			jtest.RequireNil(t, err)
			g.Assert(t, tc.name, b)
		})
	}
}

func TestSignVerify(t *testing.T) {
	e := checksum.New(1)

	req := &MembershipChange{Librarians: []string{"foo"}}
	jtest.RequireNil(t, Sign(e, req))
	assert.Len(t, req.Checksum, checksum.TokenSize)
	jtest.RequireNil(t, Verify(e, req))

	req.Librarians = append(req.Librarians, "bar")
	jtest.Assert(t, checksum.ErrMismatch, Verify(e, req))

	req.Checksum = req.Checksum[:4]
	jtest.Assert(t, checksum.ErrTokenLength, Verify(e, req))
}

func TestChecksumExcluded(t *testing.T) {
	e := checksum.New(1)

	a := RunProgression{Status: 1, TimeTaken: 10}
	b := RunProgression{Status: 1, TimeTaken: 10, Checksum: []byte("12345678")}

	sa, err := e.Sum(a)
	jtest.RequireNil(t, err)
	sb, err := e.Sum(b)
	jtest.RequireNil(t, err)
	assert.Equal(t, sa, sb)
}

func TestInvalidUTF8(t *testing.T) {
	e := checksum.New(1)
	req := &LinkRequest{Parent: "ok", Child: string([]byte{0xc3, 0x28})}
	jtest.Assert(t, checksum.ErrEncoding, Sign(e, req))
	assert.Nil(t, req.Checksum)
}
