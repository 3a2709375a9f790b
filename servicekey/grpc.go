package servicekey

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func (a *Authenticator) metadataKey() string {
	return strings.ToLower(a.header)
}

func (a *Authenticator) fromContext(ctx context.Context) Decision {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(a.metadataKey())
	if len(values) == 0 {
		return a.Verify("")
	}
	return a.Verify(values[0])
}

// UnaryServerInterceptor rejects calls without a valid key with
// codes.Unauthenticated. Missing and wrong keys look the same to the caller.
func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.fromContext(ctx).Allowed() {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func (a *Authenticator) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !a.fromContext(ss.Context()).Allowed() {
			return status.Error(codes.Unauthenticated, "unauthorized")
		}
		return handler(srv, ss)
	}
}

// PerRPCCredentials returns client credentials that attach key to every call.
func PerRPCCredentials(header, key string, requireTLS bool) credentials.PerRPCCredentials {
	return keyCredentials{header: strings.ToLower(header), key: key, tls: requireTLS}
}

type keyCredentials struct {
	header string
	key    string
	tls    bool
}

func (c keyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{c.header: c.key}, nil
}

func (c keyCredentials) RequireTransportSecurity() bool {
	return c.tls
}
