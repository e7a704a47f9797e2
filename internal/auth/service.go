// Package auth はGoogle OpenID Connectによるサインインフローを提供する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/repository"
	"github.com/hitoshi/azarole/internal/session"
)

// Session はサインインフローが読み書きするセッション。
type Session interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	Clear()
	Renew()
}

// Builder は認可リクエストを組み立てる。
type Builder interface {
	Build() (*AuthenticationRequest, error)
}

// Exchanger は認可コードをIDトークンに交換する。
type Exchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// Verifier はIDトークンを検証する。
type Verifier interface {
	Verify(ctx context.Context, rawToken, expectedNonce string) (*IDTokenClaims, error)
}

// Resolver は検証済みのsubjectをユーザーに解決する。
type Resolver interface {
	Resolve(ctx context.Context, subject string) (*model.User, error)
}

// CallbackParams はIdPからのコールバックで受け取るパラメータ。
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Service はサインインの開始とコールバック処理を行う。
type Service struct {
	builder   Builder
	exchanger Exchanger
	verifier  Verifier
	resolver  Resolver
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(builder Builder, exchanger Exchanger, verifier Verifier, resolver Resolver, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		builder:   builder,
		exchanger: exchanger,
		verifier:  verifier,
		resolver:  resolver,
		metrics:   mc,
	}
}

// NewGoogleService はGoogle向けの各コンポーネントを組み立ててServiceを生成する。
func NewGoogleService(cfg GoogleConfig, identities repository.IdentityRepository, mc metrics.MetricsCollector) *Service {
	cfg = cfg.withDefaults()
	jwks := NewJWKSProvider(JWKSProviderConfig{
		URL:             cfg.JWKSURL,
		Timeout:         cfg.HTTPTimeout,
		CacheTTL:        cfg.JWKSCacheTTL,
		RefetchInterval: cfg.JWKSRefetchInterval,
	}, mc)

	return NewService(
		NewRequestBuilder(cfg),
		NewTokenExchanger(cfg),
		NewIDTokenVerifier(jwks, cfg.ClientID, cfg.Issuers),
		NewUserResolver(identities),
		mc,
	)
}

// BeginSignIn は新しいstate・nonceをセッションに保存し、認可URLを返す。
// 前回のサインインで残ったstate・nonceは上書きされる。
func (s *Service) BeginSignIn(sess Session) (string, error) {
	req, err := s.builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build authentication request: %w", err)
	}
	sess.Set(session.KeyState, req.State)
	sess.Set(session.KeyNonce, req.Nonce)
	return req.URL, nil
}

// CompleteSignIn はコールバックを処理し、サインインしたユーザーを返す。
//
// state・nonceは結果にかかわらず最初に削除し、1回しか使えないようにする。
// 成功時はセッションを空にしてIDを再発行し、user_idのみを保存する。
// 認証失敗はErrInternalFailureを含まないエラー、インフラ障害はErrInternalFailureを含むエラーを返す。
func (s *Service) CompleteSignIn(ctx context.Context, sess Session, params CallbackParams) (*model.User, error) {
	expectedState, hasState := sess.Get(session.KeyState)
	nonce, hasNonce := sess.Get(session.KeyNonce)
	sess.Remove(session.KeyState)
	sess.Remove(session.KeyNonce)

	if params.Error != "" {
		return nil, s.reject("awaiting_code", fmt.Errorf("%w: provider returned error %q", model.ErrMissingCredential, params.Error))
	}
	if params.Code == "" || params.State == "" {
		return nil, s.reject("awaiting_code", fmt.Errorf("%w: code or state missing", model.ErrMissingCredential))
	}
	if !hasState || !hasNonce {
		return nil, s.reject("awaiting_code", fmt.Errorf("%w: no sign-in in progress", model.ErrCsrfMismatch))
	}
	if subtle.ConstantTimeCompare([]byte(params.State), []byte(expectedState)) != 1 {
		return nil, s.reject("awaiting_code", model.ErrCsrfMismatch)
	}

	idToken, err := s.exchanger.Exchange(ctx, params.Code)
	if err != nil {
		return nil, s.reject("exchanging_token", err)
	}

	claims, err := s.verifier.Verify(ctx, idToken, nonce)
	if err != nil {
		return nil, s.reject("verifying_id_token", err)
	}

	user, err := s.resolver.Resolve(ctx, claims.Subject)
	if err != nil {
		return nil, s.reject("resolving_user", err)
	}

	sess.Clear()
	sess.Renew()
	sess.Set(session.KeyUserID, strconv.FormatInt(user.ID, 10))

	s.metrics.RecordSignin(metrics.SigninSuccess)
	slog.Info("user signed in", slog.Int64("user_id", user.ID))
	return user, nil
}

// SignOut はセッションを空にし、IDを再発行する。
func (s *Service) SignOut(sess Session) {
	sess.Clear()
	sess.Renew()
}

// reject は失敗を記録し、そのまま返す。
func (s *Service) reject(step string, err error) error {
	if errors.Is(err, model.ErrInternalFailure) {
		s.metrics.RecordSignin(metrics.SigninError)
		slog.Error("sign-in failed",
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.metrics.RecordSignin(metrics.SigninUnauthorized)
	slog.Warn("sign-in rejected",
		slog.String("step", step),
		slog.String("reason", err.Error()),
	)
	return err
}
