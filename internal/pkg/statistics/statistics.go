// Package statistics serves console-wide counters, cached in Redis.
package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
)

const (
	CacheKeyConsole = "statistics:console"
	CacheExpiration = 5 * time.Minute
)

// Data holds the console statistics.
type Data struct {
	TotalGuilds         int64     `json:"total_guilds"`
	PremiumGuilds       int64     `json:"premium_guilds"`
	ActiveSubscriptions int64     `json:"active_subscriptions"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Service computes statistics from the store and caches them. A nil client
// disables caching.
type Service struct {
	store  repository.Store
	client *redis.Client
	ttl    time.Duration
}

// NewService creates a statistics service.
func NewService(store repository.Store, client *redis.Client) *Service {
	return &Service{store: store, client: client, ttl: CacheExpiration}
}

// Get returns cached statistics, computing and caching them on a miss.
func (s *Service) Get(ctx context.Context) (Data, error) {
	if s.client != nil {
		raw, err := s.client.Get(ctx, CacheKeyConsole).Bytes()
		switch {
		case err == nil:
			var data Data
			if jerr := json.Unmarshal(raw, &data); jerr == nil {
				return data, nil
			}
		case !errors.Is(err, redis.Nil):
			log.Warnf("[Statistics] cache read failed: %v", err)
		}
	}
	return s.Refresh(ctx)
}

// Refresh recomputes the statistics and stores them in the cache.
func (s *Service) Refresh(ctx context.Context) (Data, error) {
	repos := s.store.Repositories()

	total, err := repos.Guild.Count(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("failed to count guilds: %w", err)
	}
	premium, err := repos.Guild.CountPremium(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("failed to count premium guilds: %w", err)
	}
	active, err := repos.Subscription.CountByStatus(ctx,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue,
	)
	if err != nil {
		return Data{}, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	data := Data{
		TotalGuilds:         total,
		PremiumGuilds:       premium,
		ActiveSubscriptions: active,
		UpdatedAt:           time.Now().UTC(),
	}

	if s.client != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			err = s.client.Set(ctx, CacheKeyConsole, raw, s.ttl).Err()
		}
		if err != nil {
			log.Warnf("[Statistics] cache write failed: %v", err)
		}
	}
	return data, nil
}

// Invalidate drops the cached statistics.
func (s *Service) Invalidate(ctx context.Context) {
	if s.client == nil {
		return
	}
	if err := s.client.Del(ctx, CacheKeyConsole).Err(); err != nil {
		log.Warnf("[Statistics] cache delete failed: %v", err)
	}
}
