package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "azarole:session:"

// RedisStore はセッションの値をRedisに保持し、CookieにはセッションIDのみを書くストア。
type RedisStore struct {
	client redis.Cmdable
	prefix string
	opts   CookieOptions
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.Cmdable, opts CookieOptions) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		opts:   opts.withDefaults(),
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Load はCookieのセッションIDでRedisから値を読み込む。
func (s *RedisStore) Load(ctx context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.opts.Name)
	if err != nil || c.Value == "" {
		return New(), nil
	}

	data, err := s.client.Get(ctx, s.key(c.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return New(), nil
	}
	return Restore(c.Value, values), nil
}

// Save は値をRedisに書き込み、セッションIDのCookieを設定する。
// Renew済みの場合は旧IDのキーを削除してから新しいIDで保存する。
func (s *RedisStore) Save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if !sess.Modified() {
		return nil
	}

	oldID := sess.ID()
	if oldID != "" && (sess.RenewRequested() || sess.Empty()) {
		if err := s.client.Del(ctx, s.key(oldID)).Err(); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	if sess.Empty() {
		http.SetCookie(w, s.opts.expired())
		sess.markSaved("")
		return nil
	}

	id := oldID
	if id == "" || sess.RenewRequested() {
		var err error
		if id, err = newSessionID(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(sess.Values())
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.opts.MaxAge).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	http.SetCookie(w, s.opts.cookie(id))
	sess.markSaved(id)
	return nil
}

var _ Store = (*RedisStore)(nil)
