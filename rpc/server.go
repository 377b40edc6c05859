package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/luno/jettison"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/custody"
	"github.com/neuromancer/neuromancer/executor"
	"github.com/neuromancer/neuromancer/guard"
	"github.com/neuromancer/neuromancer/ident"
	"github.com/neuromancer/neuromancer/librarian"
	"github.com/neuromancer/neuromancer/wire"
)

// ErrMembershipManaged is returned by the administrative service of an
// executor whose membership is fed from discovery.
var ErrMembershipManaged = errors.New("membership is managed by discovery", j.C("ERR_4b8f0d27e9a16c53"))

// ManagedMembership rejects every administrative membership change. Register
// it in place of the executor when another source owns the membership.
type ManagedMembership struct{}

func (ManagedMembership) ChangeMembership(context.Context, *wire.MembershipChange) error {
	return ErrMembershipManaged
}

// MembershipChanger applies a membership change request.
type MembershipChanger interface {
	ChangeMembership(ctx context.Context, req *wire.MembershipChange) error
}

// NewServer returns a gRPC server that logs failed calls to l and records
// call metrics.
func NewServer(l log.Interface, opts ...grpc.ServerOption) *grpc.Server {
	if l == nil {
		l = noopLogger{}
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(interceptor(l)))
	return grpc.NewServer(opts...)
}

// RegisterAdministrative registers the administrative service backed by mc.
func RegisterAdministrative(s grpc.ServiceRegistrar, mc MembershipChanger) {
	s.RegisterService(&administrativeDesc, administrativeServer{mc: mc})
}

// RegisterJob registers the job service backed by l.
func RegisterJob(s grpc.ServiceRegistrar, l *librarian.Librarian) {
	s.RegisterService(&jobDesc, jobServer{l: l})
}

type administrativeServer struct {
	mc MembershipChanger
}

func (s administrativeServer) ChangeMembership(ctx context.Context, req *wire.MembershipChange) (*wire.Empty, error) {
	if err := s.mc.ChangeMembership(ctx, req); err != nil {
		return nil, toStatus(err)
	}
	return &wire.Empty{}, nil
}

type jobServer struct {
	l *librarian.Librarian
}

func (s jobServer) Identifiers(ctx context.Context, req *wire.Identifier) (*wire.RunIdentifiers, error) {
	resp, err := s.l.Identifiers(ctx, req)
	if errors.Is(err, librarian.ErrNotFound) {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("no identifiers were found for %s", req.UUID))
	} else if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s jobServer) Remap(ctx context.Context, req *wire.RemapRequest) (*wire.Identifier, error) {
	resp, err := s.l.Remap(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s jobServer) Link(ctx context.Context, req *wire.LinkRequest) (*wire.Empty, error) {
	resp, err := s.l.Link(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// toStatus maps domain errors to gRPC statuses.
func toStatus(err error) error {
	if me, ok := checksum.AsMismatch(err); ok {
		return status.Error(codes.InvalidArgument, me.Error())
	}

	switch {
	case errors.Is(err, checksum.ErrTokenLength):
		return status.Error(codes.OutOfRange, "length mismatch for checksum")
	case errors.Is(err, checksum.ErrMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, checksum.ErrEncoding):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ident.ErrEmpty):
		return status.Error(codes.InvalidArgument, "no identifier provided")
	case errors.IsAny(err, ident.ErrInvalid, executor.ErrInvalidAddress):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, librarian.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.IsAny(err, librarian.ErrWrongOwner, executor.ErrNoLibrarians, ErrMembershipManaged):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.IsAny(err, guard.ErrContended, guard.ErrPoisoned):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// rejected returns true for statuses the caller cannot fix by retrying.
func rejected(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.OutOfRange, codes.Aborted, codes.FailedPrecondition:
		return true
	default:
		return false
	}
}

// asRejected marks non-retryable call errors as custody rejections.
func asRejected(err error, ol ...jettison.Option) error {
	if rejected(err) {
		return errors.Wrap(custody.ErrRejected, status.Convert(err).Message(), ol...)
	}
	return errors.Wrap(err, "remote call", ol...)
}

func interceptor(l log.Interface) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		t0 := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		callCounter.WithLabelValues(info.FullMethod, code.String()).Inc()
		callDuration.WithLabelValues(info.FullMethod).Observe(time.Since(t0).Seconds())

		if code == codes.Internal || code == codes.Unavailable {
			l.Error(ctx, errors.Wrap(err, "rpc failed", j.KV("method", info.FullMethod)))
		} else if err != nil {
			l.Debug(ctx, "rpc rejected", j.MKV{"method": info.FullMethod, "code": code.String()})
		}
		return resp, err
	}
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...jettison.Option) {}
func (noopLogger) Info(context.Context, string, ...jettison.Option)  {}
func (noopLogger) Error(context.Context, error, ...jettison.Option)  {}
