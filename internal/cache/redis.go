package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ticketing/internal/logger"
	"ticketing/internal/models"
)

type Config struct {
	Enabled         bool
	Addr            string
	Password        string
	DB              int
	ConfirmationTTL time.Duration
	LockTTL         time.Duration
}

const (
	confirmedKeyPrefix = "checkout:confirmed:"
	lockKeyPrefix      = "checkout:confirm-lock:"
)

// unlockScript deletes the lock only while it still carries our token.
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// ConfirmationCache remembers confirmed checkout results and serialises
// confirmation attempts per provider session.
type ConfirmationCache struct {
	client   *redis.Client
	ttl      time.Duration
	lockTTL  time.Duration
	newToken func() string
}

func NewRedisClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func NewConfirmationCache(client *redis.Client, cfg Config) *ConfirmationCache {
	return &ConfirmationCache{
		client:   client,
		ttl:      cfg.ConfirmationTTL,
		lockTTL:  cfg.LockTTL,
		newToken: uuid.NewString,
	}
}

// Get returns the cached result for a session, or nil on a miss.
func (c *ConfirmationCache) Get(ctx context.Context, sessionID string) (*models.CheckoutResult, error) {
	data, err := c.client.Get(ctx, confirmedKeyPrefix+sessionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup error: %w", err)
	}

	var result models.CheckoutResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("invalid cached confirmation: %w", err)
	}
	return &result, nil
}

func (c *ConfirmationCache) Set(ctx context.Context, sessionID string, result *models.CheckoutResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation: %w", err)
	}
	if err := c.client.Set(ctx, confirmedKeyPrefix+sessionID, string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache store error: %w", err)
	}
	return nil
}

// Lock takes the confirmation lock of a session. When acquired is false the
// lock is held by someone else and unlock is a no-op.
func (c *ConfirmationCache) Lock(ctx context.Context, sessionID string) (unlock func(), acquired bool, err error) {
	key := lockKeyPrefix + sessionID
	token := c.newToken()

	acquired, err = c.client.SetNX(ctx, key, token, c.lockTTL).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("cache lock error: %w", err)
	}
	if !acquired {
		return func() {}, false, nil
	}

	return func() {
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Eval(ctx, unlockScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logger.Get().Warn("Failed to release confirmation lock", "session_id", sessionID, "error", err)
		}
	}, true, nil
}

func (c *ConfirmationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ConfirmationCache) Close() error {
	return c.client.Close()
}
