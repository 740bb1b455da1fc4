// Package health reports relay readiness over the standard grpc.health.v1 service.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ChannelService is the health service name that tracks the notification socket.
const ChannelService = "relay.channel"

const checkTimeout = 3 * time.Second

// Pinger is used for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the notification policy filter).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker owns a grpc health server. The overall ("") status follows the database ping and the
// policy check; ChannelService follows the socket. An idle socket is not a process failure.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
	srv    *grpchealth.Server
	logger *zap.Logger
}

// NewChecker returns a Checker. pinger and policy may be nil; the corresponding check is skipped.
func NewChecker(pinger Pinger, policy PolicyChecker, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := grpchealth.NewServer()
	srv.SetServingStatus(ChannelService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{pinger: pinger, policy: policy, srv: srv, logger: logger}
}

// Server returns the grpc.health.v1 implementation to register.
func (c *Checker) Server() *grpchealth.Server {
	return c.srv
}

// Check runs the database ping and the policy check.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if c.pinger != nil {
		if err := c.pinger.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("notify policy: %w", err)
		}
	}
	return nil
}

// Refresh runs Check and publishes the overall status.
func (c *Checker) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		c.logger.Warn("health: check failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.srv.SetServingStatus("", st)
	return st
}

// SetChannel publishes the socket state.
func (c *Checker) SetChannel(connected bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		st = healthpb.HealthCheckResponse_SERVING
	}
	c.srv.SetServingStatus(ChannelService, st)
}

// Run refreshes the overall status every interval until ctx is done, then marks every service
// NOT_SERVING.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.srv.Shutdown()
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
