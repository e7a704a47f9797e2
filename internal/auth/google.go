package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/security"
	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	defaultHTTPTimeout    = 10 * time.Second
)

// GoogleConfig はGoogle OpenID Connectプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	JWKSURL  string

	// Issuers が空でなければIDトークンのissをこのいずれかに限定する
	Issuers []string

	// HTTPTimeout はトークン交換・JWKS取得の各HTTP呼び出しのタイムアウト
	HTTPTimeout time.Duration

	// JWKSCacheTTL が0の場合、JWKSは検証のたびに取得する
	JWKSCacheTTL        time.Duration
	JWKSRefetchInterval time.Duration
}

func (c GoogleConfig) withDefaults() GoogleConfig {
	if c.AuthURL == "" {
		c.AuthURL = defaultGoogleAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultGoogleTokenURL
	}
	if c.JWKSURL == "" {
		c.JWKSURL = defaultGoogleJWKSURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	return c
}

// oauth2Config はGoogle向けのoauth2.Configを生成する。
// client_secretはリクエストボディで送る。
func (c GoogleConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{"openid", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthenticationRequest はIdPへの認可リクエストと、その検証に使うstate・nonce。
// 呼び出し元はリダイレクトの前にstate・nonceをセッションへ保存する。
type AuthenticationRequest struct {
	State string
	Nonce string
	URL   string
}

// RequestBuilder は認可リクエストURLを組み立てる。
type RequestBuilder struct {
	oauth *oauth2.Config
}

// NewRequestBuilder はRequestBuilderを生成する。
func NewRequestBuilder(cfg GoogleConfig) *RequestBuilder {
	return &RequestBuilder{oauth: cfg.withDefaults().oauth2Config()}
}

// Build は新しいstate・nonceを生成し、認可URLを返す。
func (b *RequestBuilder) Build() (*AuthenticationRequest, error) {
	state, err := security.GenerateToken(security.CeremonyTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := security.GenerateToken(security.CeremonyTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &AuthenticationRequest{
		State: state,
		Nonce: nonce,
		URL:   b.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce)),
	}, nil
}

// TokenExchanger は認可コードをトークンエンドポイントでIDトークンに交換する。
type TokenExchanger struct {
	oauth  *oauth2.Config
	client *http.Client
}

// NewTokenExchanger はTokenExchangerを生成する。
func NewTokenExchanger(cfg GoogleConfig) *TokenExchanger {
	cfg = cfg.withDefaults()
	return &TokenExchanger{
		oauth:  cfg.oauth2Config(),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Exchange は認可コードを交換し、レスポンスのid_tokenを返す。
// 失敗はすべてErrTokenExchangeFailedとなる。
// エラーにはレスポンスボディやリクエスト内容を含めない。
func (e *TokenExchanger) Exchange(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	tok, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %s", model.ErrTokenExchangeFailed, describeExchangeError(err))
	}

	idToken, ok := tok.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", fmt.Errorf("%w: id_token missing in response", model.ErrTokenExchangeFailed)
	}
	return idToken, nil
}

// describeExchangeError はログに出して安全な範囲でエラー内容を要約する。
func describeExchangeError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode != "" {
			return fmt.Sprintf("token endpoint returned status %d (%s)", status, re.ErrorCode)
		}
		return fmt.Sprintf("token endpoint returned status %d", status)
	}
	var te interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &te) && te.Timeout()) {
		return "token request timed out"
	}
	return "token request failed"
}
