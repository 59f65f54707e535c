package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"taxpilot.io/internal/auth"
)

// Identity lets sibling services resolve the caller behind an access token
// without sharing the signing secret. Messages are protobuf well-known types.
const identityService = "taxpilot.auth.v1.Identity"

const (
	MethodWhoAmI          = "/" + identityService + "/WhoAmI"
	MethodHasPermission   = "/" + identityService + "/HasPermission"
	MethodUserPermissions = "/" + identityService + "/UserPermissions"
)

// DefaultPolicy guards Identity methods that expose other users.
func DefaultPolicy() map[string]string {
	return map[string]string{
		MethodUserPermissions: auth.PermViewUsers,
	}
}

// IdentityBackend is the subset of auth.Service the Identity service reads.
type IdentityBackend interface {
	GetUserWithPermissions(ctx context.Context, userID string) (auth.Profile, error)
	HasPermission(ctx context.Context, userID, permission string) bool
}

type identityHandler interface {
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	HasPermission(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	UserPermissions(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

type identityServer struct {
	backend IdentityBackend
}

// RegisterIdentity exposes backend on srv. Calls arrive already
// authenticated by the Authenticator interceptors.
func RegisterIdentity(srv grpc.ServiceRegistrar, backend IdentityBackend) {
	srv.RegisterService(&identityServiceDesc, &identityServer{backend: backend})
}

// WhoAmI returns the caller's profile and effective permissions.
func (s *identityServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return nil, Status(auth.ErrNotAuthenticated)
	}
	return s.profile(ctx, uid)
}

// HasPermission reports whether the caller holds the named permission.
func (s *identityServer) HasPermission(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return nil, Status(auth.ErrNotAuthenticated)
	}
	if in.GetValue() == "" {
		return nil, Status(auth.ValidationError(map[string]string{"permission": "is required"}))
	}
	return wrapperspb.Bool(s.backend.HasPermission(ctx, uid, in.GetValue())), nil
}

// UserPermissions returns another user's roles and effective permissions.
func (s *identityServer) UserPermissions(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, Status(auth.ValidationError(map[string]string{"userId": "is required"}))
	}
	return s.profile(ctx, in.GetValue())
}

func (s *identityServer) profile(ctx context.Context, userID string) (*structpb.Struct, error) {
	prof, err := s.backend.GetUserWithPermissions(ctx, userID)
	if err != nil {
		return nil, Status(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"userId":      prof.User.ID,
		"email":       prof.User.Email,
		"roles":       toList(prof.User.Roles),
		"permissions": toList(prof.Permissions),
	})
	if err != nil {
		return nil, Status(err)
	}
	return out, nil
}

func toList(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: identityService,
	HandlerType: (*identityHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
		{MethodName: "HasPermission", Handler: hasPermissionHandler},
		{MethodName: "UserPermissions", Handler: userPermissionsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(identityHandler).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodWhoAmI}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(identityHandler).WhoAmI(ctx, req.(*emptypb.Empty))
	})
}

func hasPermissionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(identityHandler).HasPermission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodHasPermission}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(identityHandler).HasPermission(ctx, req.(*wrapperspb.StringValue))
	})
}

func userPermissionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(identityHandler).UserPermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodUserPermissions}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(identityHandler).UserPermissions(ctx, req.(*wrapperspb.StringValue))
	})
}
