package rpc

import (
	"context"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/custody"
	"github.com/neuromancer/neuromancer/ident"
	"github.com/neuromancer/neuromancer/wire"
)

var ErrUnexpectedReply = errors.New("unexpected reply", j.C("ERR_4d91b7e3a2c06f58"))

// Dial returns a client connection to addr that speaks the services' codec.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "new grpc client", j.KV("addr", addr))
	}
	return conn, nil
}

// AdministrativeClient calls an executor's administrative service.
type AdministrativeClient struct {
	cc grpc.ClientConnInterface
}

func NewAdministrativeClient(cc grpc.ClientConnInterface) *AdministrativeClient {
	return &AdministrativeClient{cc: cc}
}

func (c *AdministrativeClient) ChangeMembership(ctx context.Context, req *wire.MembershipChange) error {
	var resp wire.Empty
	return c.cc.Invoke(ctx, changeMembershipMethod, req, &resp, grpc.CallContentSubtype(CodecName))
}

// JobClient calls a librarian's job service.
type JobClient struct {
	cc grpc.ClientConnInterface
}

func NewJobClient(cc grpc.ClientConnInterface) *JobClient {
	return &JobClient{cc: cc}
}

func (c *JobClient) Identifiers(ctx context.Context, req *wire.Identifier) (*wire.RunIdentifiers, error) {
	resp := new(wire.RunIdentifiers)
	err := c.cc.Invoke(ctx, identifiersMethod, req, resp, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *JobClient) Remap(ctx context.Context, req *wire.RemapRequest) (*wire.Identifier, error) {
	resp := new(wire.Identifier)
	err := c.cc.Invoke(ctx, remapMethod, req, resp, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *JobClient) Link(ctx context.Context, req *wire.LinkRequest) error {
	var resp wire.Empty
	return c.cc.Invoke(ctx, linkMethod, req, &resp, grpc.CallContentSubtype(CodecName))
}

// Pool holds one connection per librarian address. It transfers custody for
// an executor and reads children for a librarian.
type Pool struct {
	engine *checksum.Engine
	opts   []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewPool(engine *checksum.Engine, opts ...grpc.DialOption) *Pool {
	return &Pool{
		engine: engine,
		opts:   opts,
		conns:  make(map[string]*grpc.ClientConn),
	}
}

func (p *Pool) job(addr string) (*JobClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cc, ok := p.conns[addr]; ok {
		return NewJobClient(cc), nil
	}
	cc, err := Dial(addr, p.opts...)
	if err != nil {
		return nil, err
	}
	p.conns[addr] = cc
	return NewJobClient(cc), nil
}

// Transfer asks the librarian at t.To to take custody of t.ID.
func (p *Pool) Transfer(ctx context.Context, t custody.Transfer) error {
	kvs := j.MKV{"to": t.To, "id": t.ID.String()}

	c, err := p.job(t.To)
	if err != nil {
		return err
	}

	req := &wire.RemapRequest{UUID: t.ID.String(), From: t.From, To: t.To}
	if err := wire.Sign(p.engine, req); err != nil {
		return errors.Wrap(custody.ErrRejected, err.Error(), kvs)
	}

	resp, err := c.Remap(ctx, req)
	if err != nil {
		return asRejected(err, kvs)
	}
	if resp.UUID != req.UUID {
		return errors.Wrap(ErrUnexpectedReply, "remap acknowledged another identifier",
			j.MKV{"to": t.To, "id": t.ID.String(), "ack": resp.UUID})
	}
	return nil
}

// Children reads the children of id from the librarian at addr and verifies
// the reply's checksum.
func (p *Pool) Children(ctx context.Context, addr string, id ident.ID) ([]ident.ID, error) {
	c, err := p.job(addr)
	if err != nil {
		return nil, err
	}

	resp, err := c.Identifiers(ctx, &wire.Identifier{UUID: id.String()})
	if err != nil {
		return nil, errors.Wrap(err, "identifiers", j.KV("addr", addr))
	}
	if err := wire.Verify(p.engine, resp); err != nil {
		return nil, err
	}

	ret := make([]ident.ID, 0, len(resp.RunIDs))
	for _, r := range resp.RunIDs {
		child, err := ident.Parse(r.UUID)
		if err != nil {
			return nil, err
		}
		ret = append(ret, child)
	}
	return ret, nil
}

// Close closes every connection in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for addr, cc := range p.conns {
		if err := cc.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close connection", j.KV("addr", addr))
		}
		delete(p.conns, addr)
	}
	return first
}
