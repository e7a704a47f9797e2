package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// CeremonyTokenBytes はstate・nonceに使用する乱数のバイト数（約288ビット）。
	CeremonyTokenBytes = 36

	// APIKeyTokenBytes はAPIキーの生トークンに使用する乱数のバイト数（約768ビット）。
	APIKeyTokenBytes = 96
)

// ErrEmptyDigestKey はダイジェスト用の秘密鍵が空の場合に返される。
var ErrEmptyDigestKey = errors.New("digest secret key is empty")

// GenerateToken は暗号学的に安全な乱数をbyteLengthバイト取得し、
// URLセーフなBase64文字列にして返す。
func GenerateToken(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// TokenDigester はトークンの鍵付き一方向ダイジェストを計算する。
// 秘密鍵は起動時に一度だけ渡され、以後変更されない。
type TokenDigester struct {
	key []byte
}

// NewTokenDigester はTokenDigesterを生成する。
// 秘密鍵が空の場合は設定エラーとしてErrEmptyDigestKeyを返す。
func NewTokenDigester(key []byte) (*TokenDigester, error) {
	if len(key) == 0 {
		return nil, ErrEmptyDigestKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenDigester{key: k}, nil
}

// Digest はHMAC-SHA256(key, token)を16進文字列（64文字）で返す。
func (d *TokenDigester) Digest(token string) string {
	mac := hmac.New(sha256.New, d.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
