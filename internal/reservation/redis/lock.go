package redis

import (
	"context"
	"fmt"
	"time"

	"ms-rental/internal/logger"
	"ms-rental/internal/models"

	"github.com/go-redis/redis/v8"
)

const defaultLockTTL = 30 * time.Second

// Locks holds short-lived per-day booking locks while a hold is being created,
// and the lease that keeps sweeper instances from overlapping.
type Locks struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewLocks(client *redis.Client, ttl time.Duration, log *logger.Logger) *Locks {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locks{Client: client, TTL: ttl, Logger: log}
}

func dayKey(resourceID string, day time.Time) string {
	return fmt.Sprintf("booking_lock:%s:%s", resourceID, day.Format(models.DateLayout))
}

// isDayLocked reports whether another request is currently booking this day.
func (l *Locks) isDayLocked(ctx context.Context, resourceID string, day time.Time) (bool, error) {
	_, err := l.Client.Get(ctx, dayKey(resourceID, day)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Locks) lockDay(ctx context.Context, resourceID string, day time.Time, owner string) (bool, error) {
	return l.Client.SetNX(ctx, dayKey(resourceID, day), owner, l.TTL).Result()
}

func (l *Locks) unlockDay(ctx context.Context, resourceID string, day time.Time, owner string) error {
	key := dayKey(resourceID, day)
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // expired already
	}
	if err != nil {
		return err
	}
	if val == owner {
		return l.Client.Del(ctx, key).Err()
	}
	return nil
}

// LockDays locks every day of r for owner, or none of them.
func (l *Locks) LockDays(ctx context.Context, resourceID string, r models.DateRange, owner string) (bool, error) {
	locked := make([]time.Time, 0, r.Nights()+1)
	release := func() {
		for _, d := range locked {
			_ = l.unlockDay(ctx, resourceID, d, owner)
		}
	}

	for _, d := range r.Days() {
		ok, err := l.lockDay(ctx, resourceID, d, owner)
		if err != nil {
			release()
			return false, err
		}
		if !ok {
			release()
			l.Logger.Debug("REDIS", fmt.Sprintf("day %s of %s is being booked by another request", d.Format(models.DateLayout), resourceID))
			return false, nil
		}
		locked = append(locked, d)
	}
	return true, nil
}

// UnlockDays releases the days of r that owner still holds.
func (l *Locks) UnlockDays(ctx context.Context, resourceID string, r models.DateRange, owner string) error {
	var firstErr error
	for _, d := range r.Days() {
		if err := l.unlockDay(ctx, resourceID, d, owner); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AcquireLease takes a named lease for ttl. Returns false when someone else holds it.
func (l *Locks) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, "lease:"+name, owner, ttl).Result()
}

func (l *Locks) ReleaseLease(ctx context.Context, name, owner string) error {
	key := "lease:" + name
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == owner {
		return l.Client.Del(ctx, key).Err()
	}
	return nil
}
