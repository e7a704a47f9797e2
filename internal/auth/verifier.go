package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/azarole/internal/model"
)

// IDTokenClaims はIDトークンのクレーム。検証中にのみ使用し、永続化しない。
type IDTokenClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// KeySource はkidに対応する署名鍵セットを提供する。
type KeySource interface {
	KeySetFor(ctx context.Context, kid string) (*KeySet, error)
}

// IDTokenVerifier はIDトークンの署名とクレームを検証する。
type IDTokenVerifier struct {
	keys     KeySource
	audience string
	issuers  []string
	now      func() time.Time
}

// NewIDTokenVerifier はIDTokenVerifierを生成する。
// audienceにはOAuthクライアントIDを渡す。issuersが空の場合はissを検証しない。
func NewIDTokenVerifier(keys KeySource, audience string, issuers []string) *IDTokenVerifier {
	return &IDTokenVerifier{
		keys:     keys,
		audience: audience,
		issuers:  slices.Clone(issuers),
		now:      time.Now,
	}
}

// Verify はIDトークンを検証し、クレームを返す。
// いずれかの検証に失敗した場合はErrInvalidIDTokenのみを返し、
// どの検証で失敗したかはログにのみ記録する。
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken, expectedNonce string) (*IDTokenClaims, error) {
	claims, step, err := v.verify(ctx, rawToken, expectedNonce)
	if err != nil {
		slog.Warn("id token rejected",
			slog.String("step", step),
			slog.String("reason", err.Error()),
		)
		return nil, model.ErrInvalidIDToken
	}
	return claims, nil
}

func (v *IDTokenVerifier) verify(ctx context.Context, rawToken, expectedNonce string) (*IDTokenClaims, string, error) {
	// 1. 署名を検証せずにヘッダーを読み、kidを取り出す
	unverified, _, err := jwt.NewParser().ParseUnverified(rawToken, &IDTokenClaims{})
	if err != nil {
		return nil, "parse", err
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, "parse", errors.New("kid header missing")
	}

	// 2. kidに一致する鍵を探す
	keys, err := v.keys.KeySetFor(ctx, kid)
	if err != nil {
		return nil, "key_lookup", err
	}
	if !keys.Has(kid) {
		return nil, "key_lookup", errors.New("no key matches kid")
	}

	// 3. RS256で署名を検証し、4. audienceを検証する
	claims := &IDTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if _, err := parser.ParseWithClaims(rawToken, claims, keys.Keyfunc()); err != nil {
		return nil, "signature_or_claims", err
	}

	// audはクライアントID1件のみでなければならない（複数audienceのトークンは拒否）
	if len(claims.Audience) != 1 || claims.Audience[0] != v.audience {
		return nil, "audience", jwt.ErrTokenInvalidAudience
	}

	// 5. 有効期限は現在時刻より後でなければならない（同時刻も不可）
	if !claims.ExpiresAt.After(v.now()) {
		return nil, "expiry", jwt.ErrTokenExpired
	}

	if len(v.issuers) > 0 && !slices.Contains(v.issuers, claims.Issuer) {
		return nil, "issuer", jwt.ErrTokenInvalidIssuer
	}

	// 6. nonceはセッションに保存した値と完全一致
	if expectedNonce == "" || subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(expectedNonce)) != 1 {
		return nil, "nonce", errors.New("nonce mismatch")
	}

	if claims.Subject == "" {
		return nil, "subject", errors.New("sub claim missing")
	}

	return claims, "", nil
}
