package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmint/scan-cli/internal/model"
)

func item(id string, p model.Priority) model.WorkItem {
	return model.WorkItem{ID: id, SourcePath: id + ".jpg", Priority: p, Tier: model.TierCommon}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Enqueue(item("a", model.PriorityNormal)))
	require.NoError(t, q.Enqueue(item("b", model.PriorityNormal)))
	require.NoError(t, q.Enqueue(item("c", model.PriorityNormal)))

	got := q.Dequeue(2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, 1, q.Len())

	got = q.Dequeue(5)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueFull(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(item("a", model.PriorityNormal)))
	require.NoError(t, q.Enqueue(item("b", model.PriorityNormal)))

	err := q.Enqueue(item("c", model.PriorityNormal))
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, q.Len())
}

func TestDequeuePriorityOrder(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Enqueue(item("low", model.PriorityNormal)))
	require.NoError(t, q.Enqueue(item("crit", model.PriorityCritical)))
	require.NoError(t, q.Enqueue(item("high", model.PriorityHigh)))

	got := q.Dequeue(3)
	require.Len(t, got, 3)
	assert.Equal(t, "crit", got[0].ID)
	assert.Equal(t, "high", got[1].ID)
	assert.Equal(t, "low", got[2].ID)
}

func TestRequeueIncrementsRetryAndDelays(t *testing.T) {
	q := New(10)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	now := base
	q.now = func() time.Time { return now }

	q.Requeue(item("a", model.PriorityNormal), 5*time.Second)
	assert.Equal(t, 1, q.Len())

	// Not ready yet.
	assert.Nil(t, q.Dequeue(1))

	now = base.Add(6 * time.Second)
	got := q.Dequeue(1)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 1, got[0].RetryCount)
}

func TestRequeueBypassesCapacity(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(item("a", model.PriorityNormal)))

	q.Requeue(item("b", model.PriorityNormal), 0)
	assert.Equal(t, 2, q.Len())
}

func TestDequeueEmpty(t *testing.T) {
	q := New(10)
	assert.Nil(t, q.Dequeue(5))
	assert.Nil(t, q.Dequeue(0))
}
