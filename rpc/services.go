package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/neuromancer/neuromancer/wire"
)

const (
	administrativeService = "neuromancer.executor.Administrative"
	jobService            = "neuromancer.librarian.Job"

	changeMembershipMethod = "/" + administrativeService + "/ChangeMembership"
	identifiersMethod      = "/" + jobService + "/Identifiers"
	remapMethod            = "/" + jobService + "/Remap"
	linkMethod             = "/" + jobService + "/Link"
)

// AdministrativeServer is the executor's administrative service.
type AdministrativeServer interface {
	ChangeMembership(context.Context, *wire.MembershipChange) (*wire.Empty, error)
}

// JobServer is the librarian's job graph service.
type JobServer interface {
	Identifiers(context.Context, *wire.Identifier) (*wire.RunIdentifiers, error)
	Remap(context.Context, *wire.RemapRequest) (*wire.Identifier, error)
	Link(context.Context, *wire.LinkRequest) (*wire.Empty, error)
}

var administrativeDesc = grpc.ServiceDesc{
	ServiceName: administrativeService,
	HandlerType: (*AdministrativeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ChangeMembership",
			Handler: unaryHandler(changeMembershipMethod,
				func(srv any, ctx context.Context, req *wire.MembershipChange) (any, error) {
					return srv.(AdministrativeServer).ChangeMembership(ctx, req)
				}),
		},
	},
}

var jobDesc = grpc.ServiceDesc{
	ServiceName: jobService,
	HandlerType: (*JobServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Identifiers",
			Handler: unaryHandler(identifiersMethod,
				func(srv any, ctx context.Context, req *wire.Identifier) (any, error) {
					return srv.(JobServer).Identifiers(ctx, req)
				}),
		},
		{
			MethodName: "Remap",
			Handler: unaryHandler(remapMethod,
				func(srv any, ctx context.Context, req *wire.RemapRequest) (any, error) {
					return srv.(JobServer).Remap(ctx, req)
				}),
		},
		{
			MethodName: "Link",
			Handler: unaryHandler(linkMethod,
				func(srv any, ctx context.Context, req *wire.LinkRequest) (any, error) {
					return srv.(JobServer).Link(ctx, req)
				}),
		},
	},
}

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req any](fullMethod string,
	call func(srv any, ctx context.Context, req *Req) (any, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
