// Package grpcapi applies access-token authentication and permission checks
// at the gRPC boundary.
package grpcapi

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/obs"
)

const authMetadataKey = "authorization"

// Verifier is the subset of auth.Service the interceptors need.
type Verifier interface {
	VerifyAccessToken(token string) (auth.AccessPayload, error)
	HasPermission(ctx context.Context, userID, permission string) bool
}

// Authenticator builds unary and stream interceptors. Every method requires a
// valid access token unless listed as public; methods present in the policy
// additionally require the mapped permission.
type Authenticator struct {
	verifier Verifier
	policy   map[string]string
	public   map[string]struct{}
	log      logrus.FieldLogger
}

type Option func(*Authenticator)

// WithPolicy maps full method names ("/pkg.Service/Method") to permissions.
func WithPolicy(policy map[string]string) Option {
	return func(a *Authenticator) {
		for m, p := range policy {
			a.policy[m] = p
		}
	}
}

// WithPublicMethods exempts methods from authentication.
func WithPublicMethods(methods ...string) Option {
	return func(a *Authenticator) {
		for _, m := range methods {
			a.public[m] = struct{}{}
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAuthenticator returns an Authenticator. The standard health service is
// always public.
func NewAuthenticator(v Verifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: v,
		policy:   make(map[string]string),
		public: map[string]struct{}{
			"/grpc.health.v1.Health/Check": {},
			"/grpc.health.v1.Health/Watch": {},
			"/grpc.health.v1.Health/List":  {},
		},
		log: obs.Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := a.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

func (a *Authenticator) authorize(ctx context.Context, method string) (context.Context, error) {
	if _, ok := a.public[method]; ok {
		return ctx, nil
	}
	token, ok := bearerFromMetadata(ctx)
	if !ok {
		return nil, Status(auth.ErrNotAuthenticated)
	}
	identity, err := a.verifier.VerifyAccessToken(token)
	if err != nil {
		obs.RecordAuth("grpc_verify", string(auth.KindOf(err)))
		return nil, Status(err)
	}
	if perm, ok := a.policy[method]; ok && !a.verifier.HasPermission(ctx, identity.UserID, perm) {
		a.log.WithFields(logrus.Fields{"method": method, "user_id": identity.UserID, "permission": perm}).
			Info("grpc call denied")
		return nil, Status(auth.ErrInsufficientPermissions)
	}
	ctx = auth.ContextWithIdentity(ctx, identity)
	return auth.ContextWithToken(ctx, token), nil
}

func bearerFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get(authMetadataKey) {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			if tok := strings.TrimSpace(v[7:]); tok != "" {
				return tok, true
			}
		}
	}
	return "", false
}

// Status converts an auth error into a gRPC status error.
func Status(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isAuthError(err) {
		return err
	}
	kind := auth.KindOf(err)
	msg := "internal error"
	var ae *auth.Error
	if kind != auth.KindInternal && errors.As(err, &ae) {
		msg = ae.Message
	}
	return status.Error(codeForKind(kind), msg)
}

func isAuthError(err error) bool {
	var ae *auth.Error
	return errors.As(err, &ae)
}

func codeForKind(k auth.Kind) codes.Code {
	switch k {
	case auth.KindValidation:
		return codes.InvalidArgument
	case auth.KindUserExists:
		return codes.AlreadyExists
	case auth.KindInvalidCredentials, auth.KindInvalidAccessToken,
		auth.KindInvalidRefreshToken, auth.KindNotAuthenticated:
		return codes.Unauthenticated
	case auth.KindInsufficientPermissions:
		return codes.PermissionDenied
	case auth.KindUserNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }
