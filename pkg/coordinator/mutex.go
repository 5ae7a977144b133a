// Package coordinator provides the cross-process mutex pollers must hold
// before calling the label provider while a backfill job is active, plus
// the degraded-state signal broadcast to observers when a poll is skipped.
package coordinator

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const (
	lockKeyPrefix  = "coordinator:lock:"
	degradedChannel = "coordinator:degraded"
)

// Mutex is a redis-backed, TTL-bound cooperative lock. Failure to acquire
// means "someone else is using the label provider right now" — the caller
// is expected to skip its poll cycle rather than wait.
type Mutex struct {
	client *redis.Client
	ttl    time.Duration
	log    logr.Logger
}

func NewMutex(client *redis.Client, ttl time.Duration, log logr.Logger) *Mutex {
	return &Mutex{client: client, ttl: ttl, log: log.WithValues("component", "coordinator_mutex")}
}

// TryAcquire attempts to take the named lock for ttl, returning a release
// function on success. Acquisition failure is not an error — it is the
// expected "someone else holds it" outcome and the caller should skip.
func (m *Mutex) TryAcquire(ctx context.Context, name string) (release func(context.Context), acquired bool, err error) {
	key := lockKeyPrefix + name
	ok, err := m.client.SetNX(ctx, key, "1", m.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func(releaseCtx context.Context) {
		if delErr := m.client.Del(releaseCtx, key).Err(); delErr != nil {
			m.log.Error(delErr, "release coordinator lock failed", "lock", name)
		}
	}, true, nil
}

// DegradedBroadcaster publishes the degraded/recovered signal observers
// subscribe to when a poll is skipped for lack of the coordinator lock.
type DegradedBroadcaster struct {
	client *redis.Client
}

func NewDegradedBroadcaster(client *redis.Client) *DegradedBroadcaster {
	return &DegradedBroadcaster{client: client}
}

func (b *DegradedBroadcaster) Degraded(ctx context.Context, reason string) error {
	return b.client.Publish(ctx, degradedChannel, "degraded:"+reason).Err()
}

func (b *DegradedBroadcaster) Recovered(ctx context.Context) error {
	return b.client.Publish(ctx, degradedChannel, "recovered").Err()
}

// LabelProviderBreaker wraps calls to the label-provider client with a
// circuit breaker so a sustained outage stops every poller from hammering
// it, complementing the coordinator lock (which only serializes concurrent
// access, not failure).
type LabelProviderBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewLabelProviderBreaker(name string, onStateChange func(from, to gobreaker.State)) *LabelProviderBreaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(from, to)
			}
		},
	})
	return &LabelProviderBreaker{cb: cb}
}

// Execute runs fn through the breaker, returning gobreaker.ErrOpenState
// when the label provider is presumed down.
func (b *LabelProviderBreaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}
