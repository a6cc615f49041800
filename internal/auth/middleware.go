package auth

import (
	"context"
	"encoding/base64"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/agentfabric/gateway/pkg/models"
)

// KindForMethod maps a fully-qualified gRPC method name to the principal
// kind expected to call it, so SSH-signature auth can resolve the right
// (kind, fingerprint) row. AgentControl methods resolve kind=agent,
// PackService methods resolve kind=pack; everything else (ClientService,
// AdminService) resolves kind=client, with AdminService separately
// requiring an "operator" role (see internal/admin).
func KindForMethod(fullMethod string) models.PrincipalKind {
	switch {
	case hasPrefix(fullMethod, "/agentfabric.gateway.v1.AgentControl/"):
		return models.PrincipalAgent
	case hasPrefix(fullMethod, "/agentfabric.gateway.v1.PackService/"):
		return models.PrincipalPack
	default:
		return models.PrincipalClient
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// authenticate inspects incoming metadata and resolves a principal via
// either the SSH-signature fields or a bearer token; every inbound RPC
// must carry one of the two.
func authenticate(ctx context.Context, a *Authenticator, method string) (*models.Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, ErrMissingMetadata
	}

	if token := firstValue(md, "authorization"); token != "" {
		bearer := stripBearerPrefix(token)
		if bearer != "" {
			return a.AuthenticateBearer(ctx, bearer)
		}
	}

	pubkey := firstValue(md, "x-auth-pubkey")
	nonce := firstValue(md, "x-auth-nonce")
	timestampRaw := firstValue(md, "x-auth-timestamp")
	sigRaw := firstValue(md, "x-auth-signature")
	if pubkey == "" || nonce == "" || timestampRaw == "" || sigRaw == "" {
		return nil, ErrMissingMetadata
	}

	timestamp, err := ParseTimestamp(timestampRaw)
	if err != nil {
		return nil, ErrClockSkew
	}
	// The signature blob is SSH wire format (binary), carried base64 in the
	// ASCII metadata header.
	sig, err := base64.StdEncoding.DecodeString(sigRaw)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	return a.AuthenticateSSH(ctx, KindForMethod(method), pubkey, nonce, timestamp, sig, method)
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func stripBearerPrefix(value string) string {
	const prefix = "Bearer "
	if len(value) > len(prefix) && (value[:len(prefix)] == prefix || value[:len(prefix)] == "bearer ") {
		return value[len(prefix):]
	}
	return value
}

func grpcError(err error) error {
	switch err {
	case ErrMissingMetadata, ErrClockSkew, ErrNonceReplayed, ErrUnknownPrincipal, ErrSignatureInvalid, ErrInvalidToken:
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Error(codes.Internal, "internal authentication error")
	}
}

// UnaryInterceptor authenticates unary RPCs and attaches the resolved
// principal to the request context.
func UnaryInterceptor(a *Authenticator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		principal, err := authenticate(ctx, a, info.FullMethod)
		if err != nil {
			if logger != nil {
				logger.Warn("unary authentication failed", "method", info.FullMethod, "error", err)
			}
			return nil, grpcError(err)
		}
		return handler(WithPrincipal(ctx, principal), req)
	}
}

// StreamInterceptor authenticates streaming RPCs and attaches the resolved
// principal to the stream's context.
func StreamInterceptor(a *Authenticator, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		principal, err := authenticate(stream.Context(), a, info.FullMethod)
		if err != nil {
			if logger != nil {
				logger.Warn("stream authentication failed", "method", info.FullMethod, "error", err)
			}
			return grpcError(err)
		}
		return handler(srv, &wrappedStream{ServerStream: stream, ctx: WithPrincipal(stream.Context(), principal)})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
