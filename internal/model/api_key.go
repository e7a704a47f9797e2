package model

import "time"

// APIKey は機械クライアント向けのAPIキーを表す。
// 生のトークンは保存せず、秘密鍵によるダイジェストのみを保持する。
type APIKey struct {
	ID        int64
	UserID    int64
	Name      string
	Digest    string
	CreatedAt time.Time
}

// IssuedAPIKey は発行直後のAPIキーを表す。
// Tokenはこの値でのみ呼び出し元に渡され、再取得はできない。
type IssuedAPIKey struct {
	ID    int64
	Name  string
	Token string
}
