package grpcidentity

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryClientInterceptorForwardsUserUID(t *testing.T) {
	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(MetadataKey)
		return nil
	}

	ctx := WithUserUID(context.Background(), "u-1")
	if err := UnaryClientInterceptor()(ctx, "/svc/Method", nil, nil, nil, invoker); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "u-1" {
		t.Fatalf("expected forwarded uid, got %v", got)
	}

	got = nil
	if err := UnaryClientInterceptor()(context.Background(), "/svc/Method", nil, nil, nil, invoker); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no metadata without identity, got %v", got)
	}
}

func TestUnaryServerInterceptorReadsUserUID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKey, "u-1"))
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}

	var seen string
	_, err := UnaryServerInterceptor()(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		seen, _ = UserUIDFromContext(ctx)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "u-1" {
		t.Fatalf("expected u-1 in handler context, got %q", seen)
	}
}

func TestUnaryServerInterceptorRejectsMissingIdentity(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}
	_, err := UnaryServerInterceptor("/svc/Public")(context.Background(), nil, info, func(context.Context, any) (any, error) {
		t.Fatal("handler should not be called without identity")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	public := &grpc.UnaryServerInfo{FullMethod: "/svc/Public"}
	resp, err := UnaryServerInterceptor("/svc/Public")(context.Background(), nil, public, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("public method must pass: resp=%v err=%v", resp, err)
	}
}
