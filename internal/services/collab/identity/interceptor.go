package identity

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
	"github.com/louisbranch/atelier.space/internal/platform/requestctx"
)

// AccessGrantHeader is the gRPC metadata key carrying the signed access grant.
const AccessGrantHeader = "x-access-grant"

// healthServicePrefix matches the gRPC health checking service, which is
// exempt from grant verification.
const healthServicePrefix = "/grpc.health.v1.Health/"

// UnaryServerInterceptor resolves the access grant on each request and stores
// the caller's user ID in the request context via requestctx. Handlers read
// it with requestctx.UserIDFromContext; today only the health service is
// registered on the server, so the interceptor gates traffic for the
// admission RPC surface when one is mounted.
//
// TODO: mount the admission operations as a gRPC service so callers reach
// them through this interceptor instead of in-process wiring.
func UnaryServerInterceptor(provider Provider) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info != nil && strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		caller, err := provider.ResolveCaller(ctx, grantFromContext(ctx))
		if err != nil {
			return nil, apperrors.HandleError(err, "")
		}
		return handler(requestctx.WithUserID(ctx, caller.UserID), req)
	}
}

func grantFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(AccessGrantHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
