package grpcapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "taxpilot.auth"

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer returns a gRPC server with the auth interceptors installed, the
// standard health service and, when identity is set, the Identity service.
func NewServer(authn *Authenticator, hs *health.Server, identity IdentityBackend, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(authn.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(authn.StreamInterceptor()),
	)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	if identity != nil {
		RegisterIdentity(srv, identity)
	}
	return srv
}

// WatchReadiness updates hs from p every interval until ctx ends.
func WatchReadiness(ctx context.Context, hs *health.Server, p Pinger, interval time.Duration, log logrus.FieldLogger) {
	set := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if p != nil {
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := p.Ping(pctx)
			cancel()
			if err != nil {
				log.WithError(err).Warn("grpc readiness check failed")
				st = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(serviceName, st)
	}
	set()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			set()
		}
	}
}
