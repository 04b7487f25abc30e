package testutil

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

// StartKafka launches a single-node KRaft Kafka container and returns its
// broker addresses plus a cleanup function. The cleanup function is
// registered with t.Cleanup.
func StartKafka(t *testing.T) ([]string, func()) {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := kafka.RunContainer(ctx,
		kafka.WithClusterID("saga-test"),
		testcontainers.WithImage("confluentinc/confluent-local:7.5.0"),
	)
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	cleanup := func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanupCancel()

		_ = container.Terminate(cleanupCtx)
	}

	t.Cleanup(cleanup)

	return brokers, cleanup
}
