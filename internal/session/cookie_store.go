package session

import (
	"context"
	"crypto/hkdf"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const cookieKeyInfo = "azarole session cookie v1"

// CookieStore はセッション全体を暗号化してCookieに保持するストア。
// JWE（dir + A256GCM）で暗号化するため、クライアントは内容を読むことも改ざんすることもできない。
type CookieStore struct {
	key  []byte
	opts CookieOptions
	now  func() time.Time
}

type cookiePayload struct {
	ID      string            `json:"sid"`
	Values  map[string]string `json:"v"`
	Expires int64             `json:"exp"`
}

// NewCookieStore はCookieStoreを生成する。
// secretからHKDF-SHA256で256ビットの暗号鍵を導出する。
func NewCookieStore(secret []byte, opts CookieOptions) (*CookieStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is empty")
	}
	key, err := hkdf.Key(sha256.New, secret, nil, cookieKeyInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return &CookieStore{
		key:  key,
		opts: opts.withDefaults(),
		now:  time.Now,
	}, nil
}

// Load はCookieを復号してセッションを復元する。
func (s *CookieStore) Load(_ context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.opts.Name)
	if err != nil || c.Value == "" {
		return New(), nil
	}

	payload, err := s.decode(c.Value)
	if err != nil {
		slog.Debug("discarding unreadable session cookie", slog.String("error", err.Error()))
		return New(), nil
	}
	if s.now().Unix() >= payload.Expires {
		return New(), nil
	}

	return Restore(payload.ID, payload.Values), nil
}

// Save はセッションを暗号化してCookieに書き込む。
// 値が空になったセッションはCookieを削除する。
func (s *CookieStore) Save(_ context.Context, w http.ResponseWriter, sess *Session) error {
	if !sess.Modified() {
		return nil
	}

	if sess.Empty() {
		http.SetCookie(w, s.opts.expired())
		sess.markSaved("")
		return nil
	}

	id := sess.ID()
	if id == "" || sess.RenewRequested() {
		var err error
		if id, err = newSessionID(); err != nil {
			return err
		}
	}

	value, err := s.encode(cookiePayload{
		ID:      id,
		Values:  sess.Values(),
		Expires: s.now().Add(s.opts.MaxAge).Unix(),
	})
	if err != nil {
		return err
	}

	http.SetCookie(w, s.opts.cookie(value))
	sess.markSaved(id)
	return nil
}

func (s *CookieStore) encode(p cookiePayload) (string, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create session encrypter: %w", err)
	}
	obj, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return obj.CompactSerialize()
}

func (s *CookieStore) decode(value string) (*cookiePayload, error) {
	obj, err := jose.ParseEncrypted(value,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session cookie: %w", err)
	}
	plaintext, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session cookie: %w", err)
	}

	var p cookiePayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &p, nil
}

var _ Store = (*CookieStore)(nil)
