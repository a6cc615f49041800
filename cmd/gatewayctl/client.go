package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/agentfabric/gateway/internal/wire"
)

// cliConfig holds the operator's saved gateway address and token, loaded
// from ~/.config/gatewayctl/config.yaml. YAML, like every other on-disk
// config in this repo, rather than a second format for one small file.
type cliConfig struct {
	GatewayAddr string `yaml:"gateway_addr"`
	Token       string `yaml:"token"`
}

func defaultCLIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gatewayctl", "config.yaml")
}

func loadCLIConfig() cliConfig {
	cfg := cliConfig{GatewayAddr: "localhost:7330"}
	path := defaultCLIConfigPath()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// dial opens a plaintext gRPC connection using the gateway's JSON wire
// codec. TLS termination is expected to happen at a proxy in front of the
// gateway.
func dial() (*grpc.ClientConn, error) {
	if gatewayAddr == "" {
		return nil, fmt.Errorf("gatewayctl: --gateway is required")
	}
	return grpc.NewClient(gatewayAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		wire.ClientCodecOption(),
	)
}

// authContext attaches the operator's bearer token to outgoing metadata.
func authContext(ctx context.Context) context.Context {
	if authToken == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+authToken)
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(authContext(context.Background()), 10*time.Second)
}

func isAuthError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return st.Code() == codes.Unauthenticated || st.Code() == codes.PermissionDenied
}

func newAdminClient() (*wire.AdminServiceClient, *grpc.ClientConn, error) {
	conn, err := dial()
	if err != nil {
		return nil, nil, err
	}
	return wire.NewAdminServiceClient(conn), conn, nil
}

func newClientServiceClient() (*wire.ClientServiceClient, *grpc.ClientConn, error) {
	conn, err := dial()
	if err != nil {
		return nil, nil, err
	}
	return wire.NewClientServiceClient(conn), conn, nil
}
