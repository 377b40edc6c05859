// Package wire defines the payloads exchanged between executors and
// librarians together with their canonical byte representations.
//
// A payload's canonical bytes are its semantically relevant fields
// concatenated in declaration order. Checksum fields are never included,
// neither the payload's own nor those of nested payloads.
package wire

import (
	"encoding/binary"

	"github.com/luno/jettison/errors"

	"github.com/neuromancer/neuromancer/checksum"
)

// Signable is a payload that carries its own checksum token.
type Signable interface {
	checksum.Hashable
	GetChecksum() []byte
	SetChecksum(token []byte)
}

// Sign computes the checksum of p and stores it on p.
func Sign(e *checksum.Engine, p Signable) error {
	token, err := e.Token(p)
	if err != nil {
		return err
	}
	p.SetChecksum(token)
	return nil
}

// Verify checks the checksum token p carries.
func Verify(e *checksum.Engine, p Signable) error {
	return e.Verify(p, p.GetChecksum())
}

type Empty struct{}

type Identifier struct {
	UUID string `json:"uuid"`
}

func (i Identifier) AppendCanonical(b []byte) ([]byte, error) {
	return checksum.AppendString(b, i.UUID)
}

type Map struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (m Map) AppendCanonical(b []byte) ([]byte, error) {
	b, err := checksum.AppendString(b, m.Key)
	if err != nil {
		return b, errors.Wrap(err, "map key")
	}
	return checksum.AppendString(b, m.Value)
}

type Reduction struct {
	Key      string   `json:"key"`
	Values   []string `json:"values"`
	Checksum []byte   `json:"checksum"`
}

func (r Reduction) AppendCanonical(b []byte) ([]byte, error) {
	b, err := checksum.AppendString(b, r.Key)
	if err != nil {
		return b, errors.Wrap(err, "reduction key")
	}
	return checksum.Strings(r.Values).AppendCanonical(b)
}

func (r *Reduction) GetChecksum() []byte  { return r.Checksum }
func (r *Reduction) SetChecksum(t []byte) { r.Checksum = t }

// RunIdentifiers lists the children of a run in the job graph.
type RunIdentifiers struct {
	RunIDs   []Identifier `json:"run_ids"`
	Checksum []byte       `json:"checksum"`
}

func (r RunIdentifiers) AppendCanonical(b []byte) ([]byte, error) {
	return checksum.List[Identifier](r.RunIDs).AppendCanonical(b)
}

func (r *RunIdentifiers) GetChecksum() []byte  { return r.Checksum }
func (r *RunIdentifiers) SetChecksum(t []byte) { r.Checksum = t }

type ExecutionCommand struct {
	RunID    *Identifier `json:"run_id,omitempty"`
	Program  []byte      `json:"program"`
	Checksum []byte      `json:"checksum"`
}

func (c ExecutionCommand) AppendCanonical(b []byte) ([]byte, error) {
	b, err := checksum.AppendOptional(b, c.RunID)
	if err != nil {
		return b, errors.Wrap(err, "execution run id")
	}
	return append(b, c.Program...), nil
}

func (c *ExecutionCommand) GetChecksum() []byte  { return c.Checksum }
func (c *ExecutionCommand) SetChecksum(t []byte) { c.Checksum = t }

type MapRequest struct {
	Command  *ExecutionCommand `json:"command,omitempty"`
	Data     []Map             `json:"data"`
	Job      *Identifier       `json:"job,omitempty"`
	Checksum []byte            `json:"checksum"`
}

func (r MapRequest) AppendCanonical(b []byte) ([]byte, error) {
	b, err := checksum.AppendOptional(b, r.Command)
	if err != nil {
		return b, errors.Wrap(err, "map command")
	}
	b, err = checksum.List[Map](r.Data).AppendCanonical(b)
	if err != nil {
		return b, errors.Wrap(err, "map data")
	}
	return checksum.AppendOptional(b, r.Job)
}

func (r *MapRequest) GetChecksum() []byte  { return r.Checksum }
func (r *MapRequest) SetChecksum(t []byte) { r.Checksum = t }

type ReductionResult struct {
	RunID    *Identifier `json:"run_id,omitempty"`
	Output   string      `json:"output"`
	Checksum []byte      `json:"checksum"`
}

func (r ReductionResult) AppendCanonical(b []byte) ([]byte, error) {
	b, err := checksum.AppendOptional(b, r.RunID)
	if err != nil {
		return b, errors.Wrap(err, "reduction run id")
	}
	return checksum.AppendString(b, r.Output)
}

func (r *ReductionResult) GetChecksum() []byte  { return r.Checksum }
func (r *ReductionResult) SetChecksum(t []byte) { r.Checksum = t }

// RunProgression reports the status of a run. Its numeric fields are
// little-endian in canonical form.
type RunProgression struct {
	Status    int32  `json:"status"`
	TimeTaken uint64 `json:"time_taken"`
	Checksum  []byte `json:"checksum"`
}

func (r RunProgression) AppendCanonical(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Status))
	return binary.LittleEndian.AppendUint64(b, r.TimeTaken), nil
}

func (r *RunProgression) GetChecksum() []byte  { return r.Checksum }
func (r *RunProgression) SetChecksum(t []byte) { r.Checksum = t }

// MembershipChange is the full desired list of librarian addresses.
type MembershipChange struct {
	Librarians []string `json:"librarians"`
	Checksum   []byte   `json:"checksum"`
}

func (m MembershipChange) AppendCanonical(b []byte) ([]byte, error) {
	return checksum.Strings(m.Librarians).AppendCanonical(b)
}

func (m *MembershipChange) GetChecksum() []byte  { return m.Checksum }
func (m *MembershipChange) SetChecksum(t []byte) { m.Checksum = t }

// RemapRequest asks the librarian at To to take custody of an identifier
// previously owned by From.
type RemapRequest struct {
	UUID     string `json:"uuid"`
	From     string `json:"from"`
	To       string `json:"to"`
	Checksum []byte `json:"checksum"`
}

func (r RemapRequest) AppendCanonical(b []byte) ([]byte, error) {
	return checksum.Strings{r.UUID, r.From, r.To}.AppendCanonical(b)
}

func (r *RemapRequest) GetChecksum() []byte  { return r.Checksum }
func (r *RemapRequest) SetChecksum(t []byte) { r.Checksum = t }

// LinkRequest adds a parent to child edge to a librarian's job graph.
type LinkRequest struct {
	Parent   string `json:"parent"`
	Child    string `json:"child"`
	Checksum []byte `json:"checksum"`
}

func (r LinkRequest) AppendCanonical(b []byte) ([]byte, error) {
	return checksum.Strings{r.Parent, r.Child}.AppendCanonical(b)
}

func (r *LinkRequest) GetChecksum() []byte  { return r.Checksum }
func (r *LinkRequest) SetChecksum(t []byte) { r.Checksum = t }
