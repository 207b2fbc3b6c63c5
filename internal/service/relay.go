package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
)

// EntitlementChannel is the Redis pub/sub channel shared by every instance.
const EntitlementChannel = "harmoni:entitlement"

type relayMessage struct {
	Origin string            `json:"origin"`
	Change EntitlementChange `json:"change"`
}

// EntitlementRelay extends a local hub across processes, so a payment
// confirmed by one instance refreshes sessions held by the others.
type EntitlementRelay struct {
	client   *redis.Client
	hub      *EntitlementHub
	instance string
	log      *zap.Logger
}

func NewEntitlementRelay(client *redis.Client, hub *EntitlementHub, log *zap.Logger) *EntitlementRelay {
	return &EntitlementRelay{client: client, hub: hub, instance: domain.NewID(), log: log}
}

// Publish delivers locally, then broadcasts to the other instances. A failed
// broadcast is logged; the local delivery already happened.
func (r *EntitlementRelay) Publish(change EntitlementChange) {
	r.hub.Publish(change)

	data, err := json.Marshal(relayMessage{Origin: r.instance, Change: change})
	if err != nil {
		r.log.Error("failed to encode entitlement change", zap.Error(err))
		return
	}
	if err := r.client.Publish(context.Background(), EntitlementChannel, data).Err(); err != nil {
		r.log.Warn("failed to broadcast entitlement change", zap.String("user_id", change.UserID), zap.Error(err))
	}
}

// Run forwards changes from other instances to the local hub until ctx is
// done. ready, when non-nil, is closed once the subscription is active.
func (r *EntitlementRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, EntitlementChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.log.Warn("dropping malformed entitlement message", zap.Error(err))
				continue
			}
			if m.Origin == r.instance {
				continue
			}
			r.hub.Publish(m.Change)
		}
	}
}
