package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testRedirectURL  = "http://localhost:8080/auth/google/callback"
	testIssuer       = "https://accounts.google.com"
	testKID          = "test-kid-1"
)

var (
	testKeysOnce sync.Once
	testKey      *rsa.PrivateKey
	otherKey     *rsa.PrivateKey
)

// testKeys はテスト用のRSA鍵を返す。鍵生成は遅いためパッケージ内で共有する。
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if otherKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return testKey, otherKey
}

// jwksDocument は公開鍵からJWKSドキュメントを生成する。
func jwksDocument(t *testing.T, keys map[string]*rsa.PrivateKey) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for kid, k := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &k.PublicKey,
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal jwks: %v", err)
	}
	return b
}

// validClaims はnowを基準に有効なクレームを返す。
func validClaims(now time.Time, nonce string) IDTokenClaims {
	return IDTokenClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "abc",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(300 * time.Second)),
		},
	}
}

// mintIDToken はRS256で署名したIDトークンを生成する。kidが空の場合はヘッダーに含めない。
func mintIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims IDTokenClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return s
}

// fakeIdP はトークンエンドポイントとJWKSエンドポイントを持つテスト用IdP。
type fakeIdP struct {
	t         *testing.T
	jwks      *httptest.Server
	token     *httptest.Server
	jwksHits  atomic.Int32
	tokenHits atomic.Int32

	mu       sync.Mutex
	claims   IDTokenClaims
	subject  string
	lastForm map[string]string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, _ := testKeys(t)
	idp := &fakeIdP{t: t, subject: "abc"}

	doc := jwksDocument(t, map[string]*rsa.PrivateKey{testKID: key})
	idp.jwks = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idp.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	}))
	t.Cleanup(idp.jwks.Close)

	idp.token = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idp.tokenHits.Add(1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		idp.mu.Lock()
		idp.lastForm = form
		claims := idp.claims
		idp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     mintIDToken(t, key, testKID, claims),
		})
	}))
	t.Cleanup(idp.token.Close)

	return idp
}

// issueFor は次のトークン交換で返すIDトークンのnonceを設定する。
func (idp *fakeIdP) issueFor(nonce string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.claims = validClaims(time.Now(), nonce)
	idp.claims.Subject = idp.subject
}

func (idp *fakeIdP) config() GoogleConfig {
	return GoogleConfig{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURL,
		AuthURL:      "https://accounts.example.test/auth",
		TokenURL:     idp.token.URL,
		JWKSURL:      idp.jwks.URL,
		Issuers:      []string{testIssuer},
		HTTPTimeout:  2 * time.Second,
	}
}
