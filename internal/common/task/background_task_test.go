package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestBackgroundTaskManager(t *testing.T) {
	registry := prometheus.NewRegistry()
	clock := clocktesting.NewFakeClock(time.Now())
	m := NewBackgroundTaskManager("test_", registry, clock)

	var runs int32
	m.Register(func() { atomic.AddInt32(&runs, 1) }, time.Minute, "registry_check")

	// Runs immediately, then once per interval
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		clock.Step(time.Minute)
		return atomic.LoadInt32(&runs) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	timedOut := m.StopAll(time.Second)
	assert.False(t, timedOut)

	count, err := testutil.GatherAndCount(registry, "test_registry_check_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
