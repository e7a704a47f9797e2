package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/model"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// maxJWKSBodySize はJWKSレスポンスの最大サイズ（1MB）。
const maxJWKSBodySize = 1 << 20

// KeySet はIdPから取得した署名鍵セット。kidで鍵を引ける。
type KeySet struct {
	set     jose.JSONWebKeySet
	keyfunc keyfunc.Keyfunc
}

// ParseKeySet はJWKSドキュメントを解析する。
func ParseKeySet(raw []byte) (*KeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("failed to parse jwks: %w", err)
	}
	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build keyfunc from jwks: %w", err)
	}
	return &KeySet{set: set, keyfunc: kf}, nil
}

// Has はkidに一致する鍵が含まれているかを返す。
func (k *KeySet) Has(kid string) bool {
	return len(k.set.Key(kid)) > 0
}

// Keyfunc はjwt.Parseに渡す鍵解決関数を返す。
func (k *KeySet) Keyfunc() jwt.Keyfunc {
	return k.keyfunc.Keyfunc
}

// JWKSProviderConfig はJWKSProviderの設定。
type JWKSProviderConfig struct {
	URL     string
	Timeout time.Duration

	// CacheTTL が0の場合はキャッシュせず、毎回取得する
	CacheTTL time.Duration

	// RefetchInterval はキャッシュミス時の再取得の最小間隔
	RefetchInterval time.Duration
}

// JWKSProvider はIdPの署名鍵セットを取得する。
type JWKSProvider struct {
	url     string
	client  *http.Client
	ttl     time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu        sync.Mutex
	cached    *KeySet
	fetchedAt time.Time
}

// NewJWKSProvider はJWKSProviderを生成する。
func NewJWKSProvider(cfg JWKSProviderConfig, mc metrics.MetricsCollector) *JWKSProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RefetchInterval <= 0 {
		cfg.RefetchInterval = time.Second
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &JWKSProvider{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		ttl:     cfg.CacheTTL,
		limiter: rate.NewLimiter(rate.Every(cfg.RefetchInterval), 1),
		metrics: mc,
		now:     time.Now,
	}
}

// Fetch は証明書エンドポイントへGETを1回行い、鍵セットを返す。
// 通信・解析の失敗はErrKeySetUnavailableとなる。
func (p *JWKSProvider) Fetch(ctx context.Context) (*KeySet, error) {
	start := time.Now()
	ks, err := p.fetch(ctx)
	p.metrics.RecordJWKSFetch(time.Since(start), err)
	if err != nil {
		slog.Warn("jwks fetch failed",
			slog.String("url", p.url),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrKeySetUnavailable, err)
	}
	return ks, nil
}

func (p *JWKSProvider) fetch(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read jwks response: %w", err)
	}
	return ParseKeySet(body)
}

// KeySetFor はkidを含む鍵セットを返す。
// キャッシュ無効時は毎回取得する。キャッシュ有効時はキャッシュにkidがない、
// または期限切れの場合に再取得する。同時の再取得は1回にまとめ、
// 再取得の間隔はレートリミッターで空ける（待機するだけで失敗はしない）。
func (p *JWKSProvider) KeySetFor(ctx context.Context, kid string) (*KeySet, error) {
	if p.ttl <= 0 {
		return p.Fetch(ctx)
	}

	if ks := p.cachedFor(kid); ks != nil {
		return ks, nil
	}

	ch := p.group.DoChan("jwks", func() (any, error) {
		// 別のリクエストの再取得で既に解決している場合がある
		if ks := p.cachedFor(kid); ks != nil {
			return ks, nil
		}
		fetchCtx := context.WithoutCancel(ctx)
		if err := p.limiter.Wait(fetchCtx); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrKeySetUnavailable, err)
		}
		ks, err := p.Fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		p.store(ks)
		return ks, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", model.ErrKeySetUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (p *JWKSProvider) cachedFor(kid string) *KeySet {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil || p.now().Sub(p.fetchedAt) >= p.ttl {
		return nil
	}
	if !p.cached.Has(kid) {
		return nil
	}
	return p.cached
}

func (p *JWKSProvider) store(ks *KeySet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ks
	p.fetchedAt = p.now()
}
