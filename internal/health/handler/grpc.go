package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncGRPC sets the overall ("") serving status of hs from s.Check every interval
// until ctx is done. It checks once immediately.
func (s *Server) SyncGRPC(ctx context.Context, hs *health.Server, interval time.Duration) {
	update := func() {
		if _, ready := s.Check(ctx); ready {
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			return
		}
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	update()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			update()
		}
	}
}
