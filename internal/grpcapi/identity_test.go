package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"taxpilot.io/internal/auth"
)

func dialIdentity(t *testing.T, svc *auth.Service) *grpc.ClientConn {
	t.Helper()
	authn := NewAuthenticator(svc, WithLogger(quiet()), WithPolicy(DefaultPolicy()))
	srv := NewServer(authn, health.NewServer(), svc)

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = listener.Close()
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func outgoing(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestIdentityWhoAmI(t *testing.T) {
	svc, _ := newService(t)
	sess := register(t, svc)
	conn := dialIdentity(t, svc)

	out := new(structpb.Struct)
	err := conn.Invoke(context.Background(), MethodWhoAmI, &emptypb.Empty{}, out)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = conn.Invoke(outgoing(sess.Tokens.AccessToken), MethodWhoAmI, &emptypb.Empty{}, out)
	require.NoError(t, err)
	got := out.AsMap()
	assert.Equal(t, sess.User.ID, got["userId"])
	assert.Equal(t, "a@b.com", got["email"])
	assert.Equal(t, []any{auth.RoleUser}, got["roles"])
	assert.Contains(t, got["permissions"], auth.PermFileReturn)
	assert.NotContains(t, got, "passwordHash")
}

func TestIdentityHasPermission(t *testing.T) {
	svc, store := newService(t)
	sess := register(t, svc)
	conn := dialIdentity(t, svc)
	ctx := outgoing(sess.Tokens.AccessToken)

	out := new(wrapperspb.BoolValue)
	require.NoError(t, conn.Invoke(ctx, MethodHasPermission, wrapperspb.String(auth.PermFileReturn), out))
	assert.True(t, out.GetValue())

	require.NoError(t, conn.Invoke(ctx, MethodHasPermission, wrapperspb.String(auth.PermDeletePost), out))
	assert.False(t, out.GetValue())

	require.NoError(t, store.GrantPermission(context.Background(), sess.User.ID, auth.PermDeletePost))
	require.NoError(t, conn.Invoke(ctx, MethodHasPermission, wrapperspb.String(auth.PermDeletePost), out))
	assert.True(t, out.GetValue())

	err := conn.Invoke(ctx, MethodHasPermission, wrapperspb.String(""), out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestIdentityUserPermissionsRequiresViewUsers(t *testing.T) {
	svc, store := newService(t)
	sess := register(t, svc)
	conn := dialIdentity(t, svc)
	ctx := outgoing(sess.Tokens.AccessToken)

	out := new(structpb.Struct)
	err := conn.Invoke(ctx, MethodUserPermissions, wrapperspb.String(sess.User.ID), out)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	require.NoError(t, store.AssignRole(context.Background(), sess.User.ID, auth.RoleAdmin))
	require.NoError(t, conn.Invoke(ctx, MethodUserPermissions, wrapperspb.String(sess.User.ID), out))
	assert.Contains(t, out.AsMap()["permissions"], auth.PermViewUsers)

	err = conn.Invoke(ctx, MethodUserPermissions, wrapperspb.String("ghost"), out)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
