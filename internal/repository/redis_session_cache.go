package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/gamefinder/internal/model"
)

// sessionKeyPrefix はセッションキャッシュのキー接頭辞。
const sessionKeyPrefix = "gamefinder:session:"

// RedisSessionCache はSessionRepositoryの前段に置くRedisキャッシュ。
// 書き込みは下位リポジトリに委譲した上でキャッシュを更新し、
// キャッシュの有効期限はセッションの有効期限に合わせる。
// Redisの障害時は下位リポジトリのみで動作を継続する。
type RedisSessionCache struct {
	client *redis.Client
	next   SessionRepository
	logger *slog.Logger
}

// NewRedisSessionCache はRedisSessionCacheを生成する。
func NewRedisSessionCache(client *redis.Client, next SessionRepository, logger *slog.Logger) *RedisSessionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSessionCache{client: client, next: next, logger: logger}
}

// cachedSession はキャッシュに保存するセッションの表現。
type cachedSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Create はセッションを作成し、キャッシュに保存する。
func (c *RedisSessionCache) Create(ctx context.Context, session *model.Session) error {
	if err := c.next.Create(ctx, session); err != nil {
		return err
	}
	c.store(ctx, session)
	return nil
}

// FindByID はキャッシュを優先してセッションを取得する。期限切れの場合はnilを返す。
func (c *RedisSessionCache) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := c.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	switch {
	case err == nil:
		var cs cachedSession
		if err := json.Unmarshal(raw, &cs); err == nil {
			s := &model.Session{
				ID:        cs.ID,
				UserID:    cs.UserID,
				Email:     cs.Email,
				ExpiresAt: cs.ExpiresAt,
				CreatedAt: cs.CreatedAt,
			}
			if !s.Expired(time.Now()) {
				return s, nil
			}
		}
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("session cache read failed",
			slog.String("error", err.Error()),
		)
	}

	session, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		c.evict(ctx, id)
		return nil, nil
	}
	c.store(ctx, session)
	return session, nil
}

// Extend は有効期限を延長し、キャッシュを破棄する。次回のFindByIDで再読込される。
func (c *RedisSessionCache) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	if err := c.next.Extend(ctx, id, expiresAt); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// DeleteByID はセッションを削除し、キャッシュから取り除く。
func (c *RedisSessionCache) DeleteByID(ctx context.Context, id string) error {
	if err := c.next.DeleteByID(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
// キャッシュ側はキーをユーザー単位で索引していないため、有効期限切れに任せる。
func (c *RedisSessionCache) DeleteByUserID(ctx context.Context, userID string) error {
	return c.next.DeleteByUserID(ctx, userID)
}

// DeleteExpiredBefore は期限切れセッションを削除する。キャッシュはTTLで自然に消える。
func (c *RedisSessionCache) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	return c.next.DeleteExpiredBefore(ctx, before)
}

func (c *RedisSessionCache) store(ctx context.Context, session *model.Session) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cachedSession{
		ID:        session.ID,
		UserID:    session.UserID,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+session.ID, raw, ttl).Err(); err != nil {
		c.logger.Warn("session cache write failed",
			slog.String("error", err.Error()),
		)
	}
}

func (c *RedisSessionCache) evict(ctx context.Context, id string) {
	if err := c.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		c.logger.Warn("session cache evict failed",
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionCache)(nil)
