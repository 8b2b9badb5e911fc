package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default quota configuration values.
const (
	DefaultUserQuota   = 120             // requests per window per user
	DefaultGlobalQuota = 5000            // requests per window across all users
	DefaultWindowSize  = time.Minute     // fixed window
	DefaultKeyTTL      = 2 * time.Minute // window + buffer
)

// Redis key prefixes for quota tracking.
const (
	keyPrefixUser   = "quota:user:"
	keyPrefixGlobal = "quota:global:"
)

// QuotaTracker coordinates request quotas across server instances using
// Redis. Each request is counted against both the caller's window and a
// global window; the check-and-increment is a single Lua script so
// concurrent instances can never overshoot a quota.
type QuotaTracker struct {
	redis       redis.Cmdable
	userQuota   int
	globalQuota int
	windowSize  time.Duration
	keyTTL      time.Duration
}

// QuotaTrackerConfig holds configuration for the quota tracker.
type QuotaTrackerConfig struct {
	// Redis is the client shared by all server instances. Required.
	Redis redis.Cmdable

	// UserQuota is the per-user requests per window. Default: 120.
	UserQuota int

	// GlobalQuota is the total requests per window. Default: 5000.
	GlobalQuota int

	// WindowSize is the quota window. Default: 1m.
	WindowSize time.Duration

	// KeyTTL is the TTL for Redis keys. Default: 2m. Should be at least
	// WindowSize so counters outlive their window.
	KeyTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *QuotaTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.UserQuota < 0 {
		return errors.New("user quota cannot be negative")
	}
	if c.GlobalQuota < 0 {
		return errors.New("global quota cannot be negative")
	}

	userQuota := c.UserQuota
	if userQuota == 0 {
		userQuota = DefaultUserQuota
	}
	globalQuota := c.GlobalQuota
	if globalQuota == 0 {
		globalQuota = DefaultGlobalQuota
	}
	if userQuota > globalQuota {
		return fmt.Errorf("user quota (%d) cannot exceed global quota (%d)", userQuota, globalQuota)
	}

	return nil
}

// NewQuotaTracker creates a new tracker with the given configuration.
func NewQuotaTracker(cfg *QuotaTrackerConfig) (*QuotaTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	userQuota := cfg.UserQuota
	if userQuota == 0 {
		userQuota = DefaultUserQuota
	}

	globalQuota := cfg.GlobalQuota
	if globalQuota == 0 {
		globalQuota = DefaultGlobalQuota
	}

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}

	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &QuotaTracker{
		redis:       cfg.Redis,
		userQuota:   userQuota,
		globalQuota: globalQuota,
		windowSize:  windowSize,
		keyTTL:      keyTTL,
	}, nil
}

// getWindowTimestamp returns the timestamp for the current window, aligned to
// the window boundary.
func (t *QuotaTracker) getWindowTimestamp() int64 {
	return time.Now().Truncate(t.windowSize).UnixMilli()
}

func (t *QuotaTracker) getKeys(userID string, windowTS int64) (userKey, globalKey string) {
	tsStr := strconv.FormatInt(windowTS, 10)
	userKey = keyPrefixUser + userID + ":" + tsStr
	globalKey = keyPrefixGlobal + tsStr
	return
}

var consumeScript = redis.NewScript(`
	local userKey = KEYS[1]
	local globalKey = KEYS[2]
	local userQuota = tonumber(ARGV[1])
	local globalQuota = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local userUsed = tonumber(redis.call('GET', userKey) or '0')
	local globalUsed = tonumber(redis.call('GET', globalKey) or '0')

	if userUsed + 1 > userQuota then
		return {0, userUsed, globalUsed}
	end
	if globalUsed + 1 > globalQuota then
		return {0, userUsed, globalUsed}
	end

	redis.call('INCR', userKey)
	redis.call('EXPIRE', userKey, ttl)
	redis.call('INCR', globalKey)
	redis.call('EXPIRE', globalKey, ttl)

	return {1, userUsed + 1, globalUsed + 1}
`)

// TryConsume counts one request against userID's quota.
//
// Returns:
//   - allowed: true if the request may proceed
//   - retryAfter: suggested wait before retrying if not allowed
func (t *QuotaTracker) TryConsume(ctx context.Context, userID string) (bool, time.Duration) {
	windowTS := t.getWindowTimestamp()
	userKey, globalKey := t.getKeys(userID, windowTS)

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{userKey, globalKey},
		t.userQuota, t.globalQuota, ttlSeconds).Int64Slice()
	if err != nil {
		// On Redis error, deny the request to be safe
		return false, t.retryAfter(windowTS)
	}

	if result[0] != 1 {
		return false, t.retryAfter(windowTS)
	}

	return true, 0
}

// retryAfter returns the time until the next window starts.
func (t *QuotaTracker) retryAfter(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := time.Until(windowEnd)
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Usage returns the requests consumed in the current window for one user and
// across all users. Missing counters read as zero.
func (t *QuotaTracker) Usage(ctx context.Context, userID string) (userUsed, globalUsed int, err error) {
	windowTS := t.getWindowTimestamp()
	userKey, globalKey := t.getKeys(userID, windowTS)

	pipe := t.redis.Pipeline()
	userCmd := pipe.Get(ctx, userKey)
	globalCmd := pipe.Get(ctx, globalKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}

	return parseIntOrZero(userCmd), parseIntOrZero(globalCmd), nil
}

// UserQuota returns the configured per-user quota.
func (t *QuotaTracker) UserQuota() int {
	return t.userQuota
}

// GlobalQuota returns the configured global quota.
func (t *QuotaTracker) GlobalQuota() int {
	return t.globalQuota
}

// WindowSize returns the configured window size.
func (t *QuotaTracker) WindowSize() time.Duration {
	return t.windowSize
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}
