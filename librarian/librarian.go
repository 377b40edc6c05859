// Package librarian implements a worker shard: a store of job graphs that
// answers child lookups and accepts custody of identifiers rebalanced onto it.
package librarian

import (
	"context"

	"github.com/luno/jettison"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/guard"
	"github.com/neuromancer/neuromancer/ident"
	"github.com/neuromancer/neuromancer/wire"
)

var (
	ErrNotFound   = errors.New("no identifiers were found", j.C("ERR_8e4b1d97c05a2f36"))
	ErrWrongOwner = errors.New("remap addressed to another librarian", j.C("ERR_f29a6c3d7e10b845"))
)

// Source reads the children of an identifier from another librarian.
type Source interface {
	Children(ctx context.Context, addr string, id ident.ID) ([]ident.ID, error)
}

type Options struct {
	// Source, if set, is used to copy the children of a remapped identifier
	// from its previous owner.
	Source Source

	GuardPolicy guard.Policy

	Log log.Interface
}

func validateOptions(o *Options) {
	if o.GuardPolicy == (guard.Policy{}) {
		o.GuardPolicy = guard.DefaultPolicy()
	}
	if o.Log == nil {
		o.Log = noopLogger{}
	}
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...jettison.Option) {}
func (noopLogger) Info(context.Context, string, ...jettison.Option)  {}
func (noopLogger) Error(context.Context, error, ...jettison.Option)  {}

// Librarian serves the job graph held at addr.
type Librarian struct {
	addr    string
	engine  *checksum.Engine
	options Options
	graph   *guard.RW[*Graph]
}

func New(addr string, engine *checksum.Engine, o Options) *Librarian {
	validateOptions(&o)
	return &Librarian{
		addr:    addr,
		engine:  engine,
		options: o,
		graph: guard.New("librarian", NewGraph(),
			guard.WithPolicy[*Graph](o.GuardPolicy),
			guard.WithRepair(func(g **Graph) { (*g).Repair() })),
	}
}

func (l *Librarian) Addr() string {
	return l.addr
}

// Identifiers returns the children of the identifier in req with a checksum
// over them.
func (l *Librarian) Identifiers(ctx context.Context, req *wire.Identifier) (*wire.RunIdentifiers, error) {
	id, err := ident.Parse(req.UUID)
	if err != nil {
		lookupCounter.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var children []ident.ID
	err = l.graph.Read(ctx, func(g *Graph) error {
		cs, ok := g.Children(id)
		if !ok {
			return errors.Wrap(ErrNotFound, "", j.KV("id", id.String()))
		}
		children = cs
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		lookupCounter.WithLabelValues("not_found").Inc()
		return nil, err
	} else if err != nil {
		return nil, err
	}

	resp := &wire.RunIdentifiers{RunIDs: make([]wire.Identifier, 0, len(children))}
	for _, c := range children {
		resp.RunIDs = append(resp.RunIDs, wire.Identifier{UUID: c.String()})
	}
	if err := wire.Sign(l.engine, resp); err != nil {
		return nil, err
	}

	lookupCounter.WithLabelValues("ok").Inc()
	return resp, nil
}

// Remap takes custody of the identifier in req. Children held by the previous
// owner are copied when it can still be reached. Remapping an identifier
// that is already held is acknowledged again.
func (l *Librarian) Remap(ctx context.Context, req *wire.RemapRequest) (*wire.Identifier, error) {
	if err := wire.Verify(l.engine, req); err != nil {
		return nil, err
	}
	id, err := ident.Parse(req.UUID)
	if err != nil {
		return nil, err
	}
	if req.To != l.addr {
		return nil, errors.Wrap(ErrWrongOwner, "", j.MKV{"to": req.To, "addr": l.addr})
	}

	ctx = log.ContextWith(ctx, j.MKV{"id": id.String(), "from": req.From})

	var inherited []ident.ID
	if l.options.Source != nil && req.From != "" && req.From != l.addr {
		cs, err := l.options.Source.Children(ctx, req.From, id)
		if err != nil {
			// NoReturnErr: The previous owner is usually gone, take custody anyway.
			l.options.Log.Info(ctx, "previous owner unavailable for remap", j.KV("err", err.Error()))
		} else {
			inherited = cs
		}
	}

	err = l.graph.Write(ctx, func(g **Graph) error {
		(*g).AddVertex(id)
		for _, c := range inherited {
			(*g).AddEdge(id, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	remapCounter.Inc()
	l.options.Log.Debug(ctx, "took custody", j.KV("children", len(inherited)))
	return &wire.Identifier{UUID: id.String()}, nil
}

// Link adds an edge from parent to child to the job graph.
func (l *Librarian) Link(ctx context.Context, req *wire.LinkRequest) (*wire.Empty, error) {
	if err := wire.Verify(l.engine, req); err != nil {
		return nil, err
	}
	parent, err := ident.Parse(req.Parent)
	if err != nil {
		return nil, errors.Wrap(err, "parent")
	}
	child, err := ident.Parse(req.Child)
	if err != nil {
		return nil, errors.Wrap(err, "child")
	}

	err = l.graph.Write(ctx, func(g **Graph) error {
		(*g).AddEdge(parent, child)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &wire.Empty{}, nil
}

// Len returns the number of identifiers held.
func (l *Librarian) Len(ctx context.Context) (int, error) {
	var n int
	err := l.graph.Read(ctx, func(g *Graph) error {
		n = g.Len()
		return nil
	})
	return n, err
}
