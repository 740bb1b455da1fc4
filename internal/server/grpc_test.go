package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"salesops-relay/internal/health"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: health.NewChecker(nil, nil, nil)})
	if len(reg.services) != 1 || reg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("services = %v, want [grpc.health.v1.Health]", reg.services)
	}

	reg = &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})
	if len(reg.services) != 0 {
		t.Errorf("services = %v, want none without a checker", reg.services)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()
	return addr
}

func TestServe_HealthCheckRoundTrip(t *testing.T) {
	checker := health.NewChecker(nil, nil, nil)
	checker.Refresh(context.Background())
	checker.SetChannel(true)
	s := NewServer(Deps{Health: checker})
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, addr, s, nil) }()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	var resp *healthpb.HealthCheckResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		callCtx, callCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		resp, err = client.Check(callCtx, &healthpb.HealthCheckRequest{Service: health.ChannelService})
		callCancel()
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	if err := Serve(context.Background(), "not-an-address", grpc.NewServer(), nil); err == nil {
		t.Error("expected listen error")
	}
}
