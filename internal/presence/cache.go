package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// Entry is the latest known position for a (session, user) pair. It is a
// lossy projection of the durable sample stream: expiry means "no known
// live position", never an error.
type Entry struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	SpeedMps   float64   `json:"speed_mps,omitempty"`
	BatteryPct float64   `json:"battery_pct,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	CachedAt   time.Time `json:"cached_at"`
}

type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache wraps a redis client. A nil client disables the cache: Put is a
// no-op and Get always misses.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{redis: client, ttl: ttl}
}

func Key(sessionID, userID string) string {
	return "presence:" + sessionID + ":" + userID
}

// Put overwrites the entry and resets its TTL. Last writer wins.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if e.SessionID == "" || e.UserID == "" {
		return errors.New("presence entry needs session and user ids")
	}
	e.CachedAt = time.Now()

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, Key(e.SessionID, e.UserID), payload, c.ttl).Err()
}

// Get returns (nil, nil) when the entry is missing or expired.
func (c *Cache) Get(ctx context.Context, sessionID, userID string) (*Entry, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}
	payload, err := c.redis.Get(ctx, Key(sessionID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Invalidate bulk-removes entries matching a key pattern, e.g.
// "presence:<sessionID>:*". Administrative cleanup only, not the hot path.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if c == nil || c.redis == nil {
		return 0, nil
	}

	removed := 0
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}
