// Package grpcidentity carries the gateway-resolved userUID across gRPC hops
// as request metadata.
package grpcidentity

import (
	"context"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const MetadataKey = "x-user-uid"

type ctxKey string

const userUIDKey ctxKey = "userUID"

func WithUserUID(ctx context.Context, userUID string) context.Context {
	return context.WithValue(ctx, userUIDKey, userUID)
}

func UserUIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userUIDKey).(string)
	return uid, ok && uid != ""
}

// UnaryClientInterceptor forwards the userUID stored in ctx, if any, as
// outgoing metadata.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if uid, ok := UserUIDFromContext(ctx); ok {
			ctx = metadata.AppendToOutgoingContext(ctx, MetadataKey, uid)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor reads the forwarded userUID into ctx. Calls without
// one are rejected unless their full method name is listed in public.
func UnaryServerInterceptor(public ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var uid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(MetadataKey); len(values) > 0 {
				uid = values[0]
			}
		}
		if uid == "" {
			if slices.Contains(public, info.FullMethod) {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing forwarded identity")
		}
		return handler(WithUserUID(ctx, uid), req)
	}
}
