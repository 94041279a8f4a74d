package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/filesmanager/internal/model"
)

// sessionKeyPrefix はセッションキーの接頭辞。キーは auth_<token> となる。
const sessionKeyPrefix = "auth_"

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLで管理し、読み取り時の延長は行わない。
type RedisSessionRepo struct {
	client redis.Cmdable
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.Cmdable) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

// SessionKey はトークンに対応するRedisキーを返す。
func SessionKey(token string) string {
	return sessionKeyPrefix + token
}

// Create はセッションを作成する。ExpiresAtまでの残り時間をTTLとして設定する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired: %s", session.ExpiresAt.Format(time.RFC3339))
	}

	key := SessionKey(session.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", session.UserID,
			"created_at", session.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定トークンのセッションを取得する。期限切れ・未登録の場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}

	key := SessionKey(id)
	var (
		fieldsCmd *redis.MapStringStringCmd
		ttlCmd    *redis.DurationCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, key)
		ttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	fields := fieldsCmd.Val()
	userID := fields["user_id"]
	if userID == "" {
		return nil, nil
	}

	now := time.Now()
	session := &model.Session{
		ID:     id,
		UserID: userID,
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		session.ExpiresAt = now.Add(ttl)
	}
	if createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		session.CreatedAt = createdAt
	}
	return session, nil
}

// DeleteByID は指定トークンのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
