package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/harmoni/backend/internal/domain"
)

// UserStore reads and creates application user rows.
type UserStore interface {
	// FindByID returns nil, nil when the user does not exist.
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// Create returns domain.ErrUserExists when the id is taken.
	Create(ctx context.Context, u *domain.User) error
}

// ProfileResolver loads the user row for an identity, creating it on first
// sight.
type ProfileResolver struct {
	users UserStore
	log   *zap.Logger
	group singleflight.Group
}

func NewProfileResolver(users UserStore, log *zap.Logger) *ProfileResolver {
	return &ProfileResolver{users: users, log: log}
}

// FetchOrCreate never fails. When the store cannot produce a row it returns a
// degraded record built from the identity, with payment status pending.
// Concurrent calls for one identity share a single store round trip.
func (r *ProfileResolver) FetchOrCreate(ctx context.Context, identity domain.Identity) domain.UserRecord {
	v, _, _ := r.group.Do(identity.ID, func() (interface{}, error) {
		return r.fetchOrCreate(context.WithoutCancel(ctx), identity), nil
	})
	return v.(domain.UserRecord)
}

func (r *ProfileResolver) fetchOrCreate(ctx context.Context, identity domain.Identity) domain.UserRecord {
	u, err := r.users.FindByID(ctx, identity.ID)
	if err != nil {
		return r.degrade(identity, "read failed", err)
	}
	if u != nil {
		return domain.Authoritative(*u)
	}

	fresh := domain.DefaultUser(identity)
	createErr := r.users.Create(ctx, &fresh)
	if createErr == nil {
		r.log.Info("user record created", zap.String("user_id", identity.ID))
		return domain.Authoritative(fresh)
	}

	// Another request may have created the row first.
	u, err = r.users.FindByID(ctx, identity.ID)
	if err == nil && u != nil {
		return domain.Authoritative(*u)
	}
	if err == nil {
		err = createErr
	}
	return r.degrade(identity, "create failed", err)
}

func (r *ProfileResolver) degrade(identity domain.Identity, reason string, err error) domain.UserRecord {
	r.log.Error("using identity fallback for user record",
		zap.String("user_id", identity.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return domain.Degraded(domain.DefaultUser(identity), reason+": "+err.Error())
}
