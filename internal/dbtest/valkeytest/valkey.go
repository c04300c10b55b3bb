// Package valkeytest runs a throwaway Valkey container for token store tests.
package valkeytest

import (
	"context"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

const (
	Image = "valkey/valkey:8-alpine"

	valkeyPort = nat.Port("6379/tcp")
)

type Instance struct {
	Client valkey.Client
	Port   nat.Port

	container *valkeycontainer.ValkeyContainer
}

// Start runs a Valkey container and connects a client to it. It panics when
// the container cannot be started since tests cannot proceed without it.
func Start(ctx context.Context) *Instance {
	container, err := valkeycontainer.Run(ctx, Image)
	if err != nil {
		slogctx.Error(ctx, "Failed to start ValKey container", "error", err)
		panic(err)
	}

	port, err := container.MappedPort(ctx, valkeyPort)
	if err != nil {
		slogctx.Error(ctx, "Failed to map a port for the ValKey container", "error", err)
		panic(err)
	}

	inst := &Instance{Port: port, container: container}

	inst.Client, err = valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{inst.Address()},
	})
	if err != nil {
		slogctx.Error(ctx, "Failed to initialise a ValKey client", "error", err)
		panic(err)
	}

	return inst
}

// Address is the host:port the container listens on.
func (i *Instance) Address() string {
	return net.JoinHostPort("localhost", i.Port.Port())
}

// Set writes a raw key, bypassing any repository.
func (i *Instance) Set(ctx context.Context, key, value string) error {
	return i.Client.Do(ctx, i.Client.B().Set().Key(key).Value(value).Build()).Error()
}

// Exists reports whether key is present.
func (i *Instance) Exists(ctx context.Context, key string) (bool, error) {
	n, err := i.Client.Do(ctx, i.Client.B().Exists().Key(key).Build()).AsInt64()
	return n > 0, err
}

func (i *Instance) Terminate(ctx context.Context) {
	i.Client.Close()

	if err := i.container.Terminate(ctx); err != nil {
		slogctx.Error(ctx, "Failed to terminate ValKey container", "error", err)
		panic(err)
	}
}
