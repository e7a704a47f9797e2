// Package session はブラウザセッションの保持と、リクエストごとの読み込み・書き戻しを提供する。
package session

import "maps"

// セッションに格納するキー
const (
	// KeyState はサインイン開始時に発行したCSRF対策のstate。
	KeyState = "state"
	// KeyNonce はサインイン開始時に発行したIDトークン用のnonce。
	KeyNonce = "nonce"
	// KeyUserID はサインイン済みユーザーのID。
	KeyUserID = "user_id"
)

// Session はリクエスト中に読み書きされる文字列のキー・バリューストア。
// 1リクエスト内でのみ使用され、ゴルーチン間で共有しない。
type Session struct {
	id       string
	values   map[string]string
	modified bool
	renew    bool
}

// New は空のセッションを生成する。
func New() *Session {
	return &Session{values: make(map[string]string)}
}

// Restore はストアから読み込んだIDと値でセッションを復元する。
func Restore(id string, values map[string]string) *Session {
	s := New()
	s.id = id
	maps.Copy(s.values, values)
	return s
}

// ID はストア上のセッションIDを返す。未保存のセッションでは空文字列。
func (s *Session) ID() string {
	return s.id
}

// Get は値を取得する。
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set は値を設定する。
func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.modified = true
}

// Remove は値を削除する。存在しないキーの削除は何もしない。
func (s *Session) Remove(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.modified = true
}

// Clear はすべての値を削除する。
func (s *Session) Clear() {
	if len(s.values) > 0 {
		s.values = make(map[string]string)
	}
	s.modified = true
}

// Renew は次回保存時にセッションIDを再発行させる（セッション固定攻撃対策）。
func (s *Session) Renew() {
	s.renew = true
	s.modified = true
}

// Values は値のコピーを返す。
func (s *Session) Values() map[string]string {
	return maps.Clone(s.values)
}

// Modified は読み込み後に変更されたかを返す。
func (s *Session) Modified() bool {
	return s.modified
}

// RenewRequested はRenewが呼ばれたかを返す。
func (s *Session) RenewRequested() bool {
	return s.renew
}

// Empty は値が1つもないかを返す。
func (s *Session) Empty() bool {
	return len(s.values) == 0
}

// markSaved はストアへの保存後の状態にする。
func (s *Session) markSaved(id string) {
	s.id = id
	s.modified = false
	s.renew = false
}
