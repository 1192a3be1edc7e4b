// Package idtokengrpc provides gRPC interceptors for goIDToken.
//
// The interceptors extract the ID token from the "authorization" metadata
// ("Bearer <token>") and delegate verification to an idtoken.Validator. On
// success, the verified claims are injected into the context.
//
// Concurrency: All exported functions are safe for concurrent use.
package idtokengrpc

import (
	"context"
	"strings"
	"time"

	"github.com/keksclan/goIDToken/adapters/common"
	"github.com/keksclan/goIDToken/idtoken"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey struct{}

// ClaimsFromContext retrieves the claims stored in the context by the interceptor.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *idtoken.Claims {
	v, _ := ctx.Value(contextKey{}).(*idtoken.Claims)
	return v
}

func contextWithClaims(ctx context.Context, c *idtoken.Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// Option configures the gRPC interceptors.
type Option func(*options)

type options struct {
	common.AdapterOptions
}

// WithRequiredMetadata specifies metadata keys that must be present in
// incoming gRPC metadata before authentication proceeds.
func WithRequiredMetadata(keys ...string) Option {
	return func(o *options) {
		o.RequiredMeta.Keys = keys
	}
}

// WithTimeout bounds each token check.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.Timeout = d
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates requests using v. On failure it returns
// codes.Unauthenticated, or codes.Unavailable when the signing keys could
// not be fetched.
func UnaryServerInterceptor(v common.Checker, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		newCtx, err := authenticate(ctx, v, &o)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor(v common.Checker, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		newCtx, err := authenticate(ss.Context(), v, &o)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream overrides the context of a grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// grpcMetadataExtractor adapts gRPC incoming metadata to the MetadataExtractor interface.
type grpcMetadataExtractor struct {
	md metadata.MD
}

func (e *grpcMetadataExtractor) Get(key string) (string, bool) {
	// gRPC metadata keys are always lower-case.
	vals := e.md.Get(strings.ToLower(key))
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func authenticate(ctx context.Context, v common.Checker, o *options) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}
	if err := o.RequiredMeta.Validate(&grpcMetadataExtractor{md: md}); err != nil {
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	}

	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = vals[0]
	}
	claims, err := common.Authenticate(ctx, v, header, o.AdapterOptions)
	if err != nil {
		code := codes.Unauthenticated
		if common.Unavailable(err) {
			code = codes.Unavailable
		}
		return ctx, status.Error(code, common.PublicMessage(err))
	}
	return contextWithClaims(ctx, claims), nil
}
