package workers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueueQueue struct {
	queueName      string
	correlationKey string
	payload        any
	maxRetries     int
	called         int
}

func (f *fakeEnqueueQueue) Enqueue(ctx context.Context, queueName, correlationKey string, payload any, maxRetries int) (uuid.UUID, error) {
	f.called++
	f.queueName = queueName
	f.correlationKey = correlationKey
	f.payload = payload
	f.maxRetries = maxRetries
	return uuid.New(), nil
}

func TestLifecycleQueueEnqueuer_EnqueueLifecycleEval(t *testing.T) {
	q := &fakeEnqueueQueue{}
	enqueuer := NewLifecycleQueueEnqueuer(q, 5)
	shipmentID := uuid.New()

	err := enqueuer.EnqueueLifecycleEval(context.Background(), shipmentID)
	require.NoError(t, err)

	assert.Equal(t, 1, q.called)
	assert.Equal(t, "lifecycle_eval", q.queueName)
	assert.Equal(t, shipmentID.String(), q.correlationKey)
	assert.Equal(t, 5, q.maxRetries)
	payload, ok := q.payload.(lifecycleEvalPayload)
	require.True(t, ok)
	assert.Equal(t, shipmentID, payload.ShipmentID)
}
