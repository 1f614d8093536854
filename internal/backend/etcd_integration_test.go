package backend

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestEtcdBackend_Integration(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.5.16",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForListeningPort("2379/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker not available, skipping etcd integration test: %v", err)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "2379")
	require.NoError(t, err)

	be, err := NewEtcdBackend(EtcdOptions{
		Endpoints:   []string{fmt.Sprintf("%s:%s", host, port.Port())},
		DialTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, be.AtomicSet(ctx, map[string]string{
		"traefik/http/routers/foo/rule": "PathPrefix(`/foo`)",
	}))

	tree, err := be.GetTree(ctx, "traefik/http/routers/foo")
	require.NoError(t, err)
	require.Equal(t, "PathPrefix(`/foo`)", tree["traefik/http/routers/foo/rule"])

	require.NoError(t, be.AtomicDelete(ctx, []string{"traefik/http/routers/foo"}))
	tree, err = be.GetTree(ctx, "traefik/http/routers/foo")
	require.NoError(t, err)
	require.Empty(t, tree)
}
