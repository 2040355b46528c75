package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewRedisClient creates a Redis client from a redis:// URL and pings it
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// SeatClaimKey is the Redis key guarding one seat number on one schedule/date
func SeatClaimKey(scheduleID uuid.UUID, travelDate time.Time, seat string) string {
	return fmt.Sprintf("seatclaim:%s:%s:%s", scheduleID, travelDate.Format("2006-01-02"), seat)
}

// RedisSeatClaims serializes concurrent attempts on the same seat numbers
// with SET NX keys.
type RedisSeatClaims struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisSeatClaims creates a Redis-backed claim store
func NewRedisSeatClaims(client *redis.Client, logger *logrus.Logger) *RedisSeatClaims {
	return &RedisSeatClaims{client: client, logger: logger}
}

// Claim tries to claim every seat for owner. It is all-or-nothing: if any
// seat is already claimed, the claims taken by this call are dropped and the
// contested seat numbers are returned.
func (c *RedisSeatClaims) Claim(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string, owner string, ttl time.Duration) ([]string, error) {
	var acquired, taken []string

	for _, seat := range seats {
		ok, err := c.client.SetNX(ctx, SeatClaimKey(scheduleID, travelDate, seat), owner, ttl).Result()
		if err != nil {
			c.release(ctx, scheduleID, travelDate, acquired)
			return nil, fmt.Errorf("failed to claim seat %s: %w", seat, err)
		}
		if ok {
			acquired = append(acquired, seat)
		} else {
			taken = append(taken, seat)
		}
	}

	if len(taken) > 0 {
		c.release(ctx, scheduleID, travelDate, acquired)
		return taken, nil
	}

	return nil, nil
}

// Release drops claims on the given seats
func (c *RedisSeatClaims) Release(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string) error {
	if len(seats) == 0 {
		return nil
	}

	keys := make([]string, 0, len(seats))
	for _, seat := range seats {
		keys = append(keys, SeatClaimKey(scheduleID, travelDate, seat))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to release seat claims: %w", err)
	}
	return nil
}

func (c *RedisSeatClaims) release(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string) {
	if err := c.Release(ctx, scheduleID, travelDate, seats); err != nil {
		// claims still expire on their TTL
		c.logger.WithError(err).WithField("schedule_id", scheduleID).Warn("Failed to drop partial seat claims")
	}
}

// Ping checks the Redis connection
func (c *RedisSeatClaims) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// NoopSeatClaims is used when Redis is disabled; every claim succeeds
type NoopSeatClaims struct{}

// Claim always succeeds
func (NoopSeatClaims) Claim(context.Context, uuid.UUID, time.Time, []string, string, time.Duration) ([]string, error) {
	return nil, nil
}

// Release does nothing
func (NoopSeatClaims) Release(context.Context, uuid.UUID, time.Time, []string) error { return nil }

// Ping always reports healthy
func (NoopSeatClaims) Ping(context.Context) error { return nil }
