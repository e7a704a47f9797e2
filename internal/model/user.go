// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（プリンシパル）を表す。
// 初回の外部サインイン時に作成され、以後変更されない。
type User struct {
	ID        int64
	CreatedAt time.Time
}

// Identity は外部IdPのsubjectとユーザーの紐付けを表す。
// (Provider, Subject) ごとに一意で、作成後は変更されない。
type Identity struct {
	ID        int64
	UserID    int64
	Provider  string
	Subject   string
	CreatedAt time.Time
}

// ProviderGoogle はGoogleアカウントによるIdentityのprovider値。
const ProviderGoogle = "google"
