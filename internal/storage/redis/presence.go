package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "tablesync:presence:"

const scanBatch = 256

// Config contains configuration options for the presence mirror.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is prepended to every key and channel.
	KeyPrefix string
}

// PresenceMirror stores presence records in Redis.
type PresenceMirror struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a presence mirror over an existing client.
func New(cfg Config) (*PresenceMirror, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &PresenceMirror{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Dial connects to addr and verifies the server answers. addr is either
// host:port or a redis:// or rediss:// URL; a non-empty password or non-zero
// db overrides what the URL carries.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*PresenceMirror, error) {
	opts, err := clientOptions(addr, password, db)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return New(Config{Client: client, KeyPrefix: prefix})
}

func clientOptions(addr, password string, db int) (*redis.Options, error) {
	if !strings.HasPrefix(addr, "redis://") && !strings.HasPrefix(addr, "rediss://") {
		return &redis.Options{Addr: addr, Password: password, DB: db}, nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	return opts, nil
}

// Put stores rec with ttl and publishes it on the room channel.
func (m *PresenceMirror) Put(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.recordKey(rec.RoomID, rec.ActorID), data, ttl)
	pipe.Publish(ctx, m.Channel(rec.RoomID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror presence %s/%s: %w", rec.RoomID, rec.ActorID, err)
	}
	return nil
}

// Get returns the mirrored record, or nil if none is live.
func (m *PresenceMirror) Get(ctx context.Context, roomID, actorID string) (*domain.PresenceRecord, error) {
	data, err := m.client.Get(ctx, m.recordKey(roomID, actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s/%s: %w", roomID, actorID, err)
	}

	var rec domain.PresenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal presence: %w", err)
	}
	return &rec, nil
}

// List returns every live record in a room.
func (m *PresenceMirror) List(ctx context.Context, roomID string) ([]domain.PresenceRecord, error) {
	keys, err := m.roomKeys(ctx, roomID)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	vals, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence %s: %w", roomID, err)
	}

	out := make([]domain.PresenceRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var rec domain.PresenceRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal presence: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes one member's record.
func (m *PresenceMirror) Delete(ctx context.Context, roomID, actorID string) error {
	if err := m.client.Del(ctx, m.recordKey(roomID, actorID)).Err(); err != nil {
		return fmt.Errorf("delete presence %s/%s: %w", roomID, actorID, err)
	}
	return nil
}

// DeleteRoom removes every record of a room.
func (m *PresenceMirror) DeleteRoom(ctx context.Context, roomID string) error {
	keys, err := m.roomKeys(ctx, roomID)
	if err != nil || len(keys) == 0 {
		return err
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete room presence %s: %w", roomID, err)
	}
	return nil
}

// Subscribe follows presence updates for a room. The caller closes the
// returned PubSub.
func (m *PresenceMirror) Subscribe(ctx context.Context, roomID string) *redis.PubSub {
	return m.client.Subscribe(ctx, m.Channel(roomID))
}

// Channel is the pub/sub channel carrying a room's updates.
func (m *PresenceMirror) Channel(roomID string) string {
	return m.keyPrefix + "events:" + roomID
}

// Ping checks the connection.
func (m *PresenceMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (m *PresenceMirror) Close() error {
	return m.client.Close()
}

func (m *PresenceMirror) recordKey(roomID, actorID string) string {
	return m.keyPrefix + roomID + ":" + actorID
}

func (m *PresenceMirror) roomKeys(ctx context.Context, roomID string) ([]string, error) {
	pattern := m.keyPrefix + escapeGlob(roomID) + ":*"

	var keys []string
	iter := m.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence %s: %w", roomID, err)
	}
	return keys, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
