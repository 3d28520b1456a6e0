package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CipherHitro/AiMind/internal/config"
	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/store"
)

const (
	lockKeyPrefix   = "chat:lock:"
	holderKeyPrefix = "chat:lockholder:"
)

// Script results for releaseScript.
const (
	releaseDenied  = 0
	releaseNoop    = 1
	releaseCleared = 2
)

var acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
  local cur = cjson.decode(v)
  if cur.holderId ~= ARGV[1] then
    return v
  end
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return ''
`)

var extendScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
if cjson.decode(v).holderId ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 1
end
if cjson.decode(v).holderId == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 2
end
return 0
`)

type redisLock struct {
	HolderID       string    `json:"holderId"`
	HolderName     string    `json:"holderName"`
	OrganizationID string    `json:"orgId"`
	AcquiredAt     time.Time `json:"acquiredAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// RedisStore keeps chat locks in redis for multi-instance deployments. The
// key TTL enforces expiry and Lua scripts keep every transition atomic on the
// redis side.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func lockKey(chatID string) string   { return lockKeyPrefix + chatID }
func holderKey(userID string) string { return holderKeyPrefix + userID }

func holderMember(chatID, organizationID string) string {
	return chatID + "|" + organizationID
}

func (s *RedisStore) State(ctx context.Context, chatID string) (chat.LockState, error) {
	raw, err := s.client.Get(ctx, lockKey(chatID)).Result()
	if err == redis.Nil {
		return chat.LockState{}, nil
	}
	if err != nil {
		return chat.LockState{}, fmt.Errorf("read lock: %w", err)
	}
	return parseLock(raw)
}

func parseLock(raw string) (chat.LockState, error) {
	var l redisLock
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return chat.LockState{}, fmt.Errorf("decode lock: %w", err)
	}
	return chat.LockState{
		HolderID:   l.HolderID,
		HolderName: l.HolderName,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
	}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, chatID, organizationID, holderID, holderName string, now time.Time, ttl time.Duration) (chat.LockState, bool, error) {
	value, err := json.Marshal(redisLock{
		HolderID:       holderID,
		HolderName:     holderName,
		OrganizationID: organizationID,
		AcquiredAt:     now,
		ExpiresAt:      now.Add(ttl),
	})
	if err != nil {
		return chat.LockState{}, false, err
	}

	res, err := acquireScript.Run(ctx, s.client, []string{lockKey(chatID)},
		holderID, string(value), ttl.Milliseconds()).Result()
	if err != nil {
		return chat.LockState{}, false, fmt.Errorf("acquire lock: %w", err)
	}

	current, ok := res.(string)
	if !ok {
		return chat.LockState{}, false, fmt.Errorf("acquire lock: unexpected script result %T", res)
	}
	if current != "" {
		state, err := parseLock(current)
		return state, false, err
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, holderKey(holderID), holderMember(chatID, organizationID))
	pipe.Expire(ctx, holderKey(holderID), ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return chat.LockState{}, false, fmt.Errorf("track held lock: %w", err)
	}

	return chat.LockState{
		HolderID:   holderID,
		HolderName: holderName,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}, true, nil
}

func (s *RedisStore) Extend(ctx context.Context, chatID, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	// Re-read the stored value so the refreshed entry keeps the org and
	// display name; the script re-checks the holder atomically.
	raw, err := s.client.Get(ctx, lockKey(chatID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock: %w", err)
	}
	var l redisLock
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return false, fmt.Errorf("decode lock: %w", err)
	}
	l.AcquiredAt = now
	l.ExpiresAt = now.Add(ttl)
	value, err := json.Marshal(l)
	if err != nil {
		return false, err
	}

	res, err := extendScript.Run(ctx, s.client, []string{lockKey(chatID)},
		holderID, string(value), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, chatID, holderID string, _ time.Time) error {
	res, err := releaseScript.Run(ctx, s.client, []string{lockKey(chatID)}, holderID).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if res == releaseDenied {
		return store.ErrNotLockHolder
	}
	if members := s.membersForChat(ctx, holderID, chatID); len(members) > 0 {
		s.client.SRem(ctx, holderKey(holderID), members...)
	}
	return nil
}

func (s *RedisStore) ReleaseAllHeldBy(ctx context.Context, holderID string) ([]chat.ReleasedLock, error) {
	members, err := s.client.SMembers(ctx, holderKey(holderID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list held locks: %w", err)
	}

	var released []chat.ReleasedLock
	for _, member := range members {
		chatID, organizationID, ok := splitHolderMember(member)
		if !ok {
			continue
		}
		res, err := releaseScript.Run(ctx, s.client, []string{lockKey(chatID)}, holderID).Int()
		if err != nil {
			return released, fmt.Errorf("release lock: %w", err)
		}
		if res == releaseCleared {
			released = append(released, chat.ReleasedLock{ChatID: chatID, OrganizationID: organizationID})
		}
	}

	if err := s.client.Del(ctx, holderKey(holderID)).Err(); err != nil {
		return released, fmt.Errorf("clear held locks: %w", err)
	}
	return released, nil
}

func (s *RedisStore) membersForChat(ctx context.Context, holderID, chatID string) []any {
	members, err := s.client.SMembers(ctx, holderKey(holderID)).Result()
	if err != nil {
		return nil
	}
	var matched []any
	for _, m := range members {
		if id, _, ok := splitHolderMember(m); ok && id == chatID {
			matched = append(matched, m)
		}
	}
	return matched
}

func splitHolderMember(member string) (chatID, organizationID string, ok bool) {
	idx := strings.LastIndex(member, "|")
	if idx < 0 {
		return "", "", false
	}
	return member[:idx], member[idx+1:], true
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
