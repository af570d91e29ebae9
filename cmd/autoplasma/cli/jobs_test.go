package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/EgorKonstrukt/AutoPlasma/jobs"
)

func TestTriggerEnqueuesKnownJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	info, err := c.Trigger(context.Background(), jobs.TaskLedgerIntegrity)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, info.Type)
	require.Equal(t, jobs.QueueDefault, info.Queue)
	require.Equal(t, 3, info.MaxRetry)

	info, err = c.Trigger(context.Background(), jobs.TaskLowStockScan)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLowStockScan, info.Type)

	_, err = c.Trigger(context.Background(), "mail:send")
	require.Error(t, err)
}

func TestNewJobsCLIRequiresAddress(t *testing.T) {
	_, err := NewJobsCLI(asynq.RedisClientOpt{})
	require.Error(t, err)
}
