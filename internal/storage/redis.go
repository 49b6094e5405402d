package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "puddlebot/pkg/logx"
)

const defaultKeyPrefix = "puddlebot:"

// redisStore keeps players in one hash (field = player id) and the cursors
// of each player in their own hash (field = scope). Values are JSON.
type redisStore struct {
	client *redis.Client
	prefix string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return newRedisStore(client, cfg.KeyPrefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *redisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultKeyPrefix
	}
	return &redisStore{client: client, prefix: prefix}
}

func (r *redisStore) playersKey() string { return r.prefix + "players" }

func (r *redisStore) cursorsKey(playerID string) string { return r.prefix + "cursors:" + playerID }

func (r *redisStore) Close() error { return r.client.Close() }

func (r *redisStore) GetCursor(ctx context.Context, key CursorKey) (Cursor, bool, error) {
	key = normalizeKey(key)
	raw, err := r.client.HGet(ctx, r.cursorsKey(key.PlayerID), key.Scope).Result()
	if errors.Is(err, redis.Nil) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("redis get cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Cursor{}, false, fmt.Errorf("cursor %s: %w", key, err)
	}
	return c, true, nil
}

func (r *redisStore) PutCursor(ctx context.Context, key CursorKey, c Cursor) error {
	key = normalizeKey(key)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	c.Seen = nonNil(c.Seen)
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.cursorsKey(key.PlayerID), key.Scope, b).Err(); err != nil {
		return fmt.Errorf("redis put cursor: %w", err)
	}
	return nil
}

func (r *redisStore) ResetCursors(ctx context.Context, playerID, scope string) (int, error) {
	key := normalizeKey(CursorKey{PlayerID: playerID, Scope: scope})
	hk := r.cursorsKey(key.PlayerID)
	if key.Scope != "" {
		n, err := r.client.HDel(ctx, hk, key.Scope).Result()
		if err != nil {
			return 0, fmt.Errorf("redis reset cursor: %w", err)
		}
		return int(n), nil
	}
	var hlen *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		hlen = p.HLen(ctx, hk)
		p.Del(ctx, hk)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis reset cursors: %w", err)
	}
	return int(hlen.Val()), nil
}

func (r *redisStore) ListPlayers(ctx context.Context) ([]Player, error) {
	vals, err := r.client.HGetAll(ctx, r.playersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list players: %w", err)
	}
	out := make([]Player, 0, len(vals))
	for id, raw := range vals {
		var p Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("player %s: %w", id, err)
		}
		p.ID = id
		out = append(out, p)
	}
	sortPlayers(out)
	return out, nil
}

func (r *redisStore) AddPlayer(ctx context.Context, p Player) error {
	p, err := normalizePlayer(p)
	if err != nil {
		return err
	}
	if raw, err := r.client.HGet(ctx, r.playersKey(), p.ID).Result(); err == nil {
		var old Player
		if json.Unmarshal([]byte(raw), &old) == nil && !old.AddedAt.IsZero() {
			p.AddedAt = old.AddedAt
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis add player: %w", err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.playersKey(), p.ID, b).Err(); err != nil {
		return fmt.Errorf("redis add player: %w", err)
	}
	return nil
}

func (r *redisStore) RemovePlayer(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	var hdel *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		hdel = p.HDel(ctx, r.playersKey(), id)
		p.Del(ctx, r.cursorsKey(id))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis remove player: %w", err)
	}
	return hdel.Val() > 0, nil
}
