package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/satguru/tiffin/pkg/errorbank"
)

func TestHealthStartsNotServing(t *testing.T) {
	server := NewServer(zaptest.NewLogger(t))
	hs := NewHealth(server)

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	resp, _ = hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"app error", errorbank.NotFound("order not found"), codes.NotFound},
		{"wrapped app error", fmt.Errorf("load: %w", errorbank.Conflict("changed")), codes.AlreadyExists},
		{"plain error", errors.New("boom"), codes.Internal},
		{"status error", status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(toStatus(tt.err)); got != tt.want {
				t.Fatalf("code = %s, want %s", got, tt.want)
			}
		})
	}
}
