package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/azarole/internal/security"
)

// DefaultCookieName はセッションCookieの名前。
const DefaultCookieName = "azarole_session"

// sessionIDBytes はセッションIDの乱数バイト数（256ビット）。
const sessionIDBytes = 32

// Store はセッションの永続化先。
type Store interface {
	// Load はリクエストのセッションを読み込む。
	// Cookieがない、復号できない、期限切れの場合はエラーではなく空のセッションを返す。
	// ストア自体に到達できない場合のみエラーを返す。
	Load(ctx context.Context, r *http.Request) (*Session, error)

	// Save はセッションを保存し、必要なSet-Cookieヘッダーを書き込む。
	// 変更されていないセッションに対しては何もしない。
	Save(ctx context.Context, w http.ResponseWriter, s *Session) error
}

// CookieOptions はセッションCookieの属性。
type CookieOptions struct {
	Name   string
	Path   string
	Domain string
	MaxAge time.Duration
	Secure bool
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 24 * time.Hour
	}
	return o
}

func (o CookieOptions) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   int(o.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o CookieOptions) expired() *http.Cookie {
	c := o.cookie("")
	c.MaxAge = -1
	return c
}

func newSessionID() (string, error) {
	id, err := security.GenerateToken(sessionIDBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return id, nil
}
