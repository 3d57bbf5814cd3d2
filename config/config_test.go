package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tozny/localqueue/queue"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("LOCALQUEUE_BACKEND", BackendMemory)
	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, c.Backend)
	require.Equal(t, queue.DefaultVisibilityTimeout, c.VisibilityTimeout)
	require.Equal(t, 20*time.Millisecond, c.LockPollInterval)
	require.True(t, c.Fsync)
	require.False(t, c.FileStoreOptions().NoSync)
}

func TestFromEnvFileBackend(t *testing.T) {
	root := t.TempDir()
	t.Setenv("LOCALQUEUE_BACKEND", BackendFile)
	t.Setenv("LOCALQUEUE_ROOT", root)
	t.Setenv("LOCALQUEUE_VISIBILITY_TIMEOUT", "2000")
	t.Setenv("LOCALQUEUE_LOCK_STALE_AFTER", "0")
	t.Setenv("LOCALQUEUE_FSYNC", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, root, c.Root)
	require.Equal(t, 2*time.Second, c.VisibilityTimeout)
	require.Zero(t, c.LockStaleAfter)
	require.True(t, c.FileStoreOptions().NoSync)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOCALQUEUE_BACKEND", "tape")
	t.Setenv("LOCALQUEUE_VISIBILITY_TIMEOUT", "soon")
	t.Setenv("LOCALQUEUE_FSYNC", "maybe")
	_, err := FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "LOCALQUEUE_BACKEND")
	require.Contains(t, err.Error(), "LOCALQUEUE_VISIBILITY_TIMEOUT")
	require.Contains(t, err.Error(), "LOCALQUEUE_FSYNC")
}

func TestFromEnvRequiresBackendSettings(t *testing.T) {
	t.Setenv("LOCALQUEUE_BACKEND", BackendRedis)
	t.Setenv("REDIS_ADDRESS", "")
	_, err := FromEnv()
	require.ErrorContains(t, err, "REDIS_ADDRESS")

	t.Setenv("LOCALQUEUE_BACKEND", BackendSQS)
	t.Setenv("SQS_REGION", "us-west-2")
	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "us-west-2", c.SQS.SQSRegion)
}

func TestEnvOrDefaultDurationRejectsNegative(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "-1s")
	d, err := EnvOrDefaultDuration("SOME_TIMEOUT", time.Second)
	require.Error(t, err)
	require.Equal(t, time.Second, d)
}
