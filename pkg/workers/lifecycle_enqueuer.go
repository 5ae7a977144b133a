package workers

import (
	"context"

	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/queue"
)

// lifecycleQueue is the subset of *queue.Store the enqueuer needs.
type lifecycleQueue interface {
	Enqueue(ctx context.Context, queueName, correlationKey string, payload any, maxRetries int) (uuid.UUID, error)
}

// LifecycleQueueEnqueuer implements fingerprint.LifecycleEnqueuer and
// session.LifecycleEnqueuer over the shared durable queue: both packages
// only need to trigger a re-evaluation, never to consume the result
// directly, so a bare enqueue onto lifecycle_eval is all either needs.
type LifecycleQueueEnqueuer struct {
	queue      lifecycleQueue
	maxRetries int
}

func NewLifecycleQueueEnqueuer(queue lifecycleQueue, maxRetries int) *LifecycleQueueEnqueuer {
	return &LifecycleQueueEnqueuer{queue: queue, maxRetries: maxRetries}
}

type lifecycleEvalPayload struct {
	ShipmentID uuid.UUID `json:"shipment_id"`
}

func (e *LifecycleQueueEnqueuer) EnqueueLifecycleEval(ctx context.Context, shipmentID uuid.UUID) error {
	_, err := e.queue.Enqueue(ctx, "lifecycle_eval", shipmentID.String(), lifecycleEvalPayload{ShipmentID: shipmentID}, e.maxRetries)
	return err
}
