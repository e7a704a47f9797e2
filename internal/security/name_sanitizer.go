// Package security はトークン生成・ダイジェスト・入力サニタイズを提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はユーザーが付けた表示名からマークアップを除去する。
// APIキー名など、HTMLとして解釈されてはならない値の保存前に使用する。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はすべてのタグを除去するポリシーでNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、前後の空白を取り除いた文字列を返す。
// bluemondayが付けたエスケープは戻し、&や引用符はそのまま保存する。
// 同一入力に対して常に同一出力を返す。
func (s *NameSanitizer) Sanitize(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(name)))
}
