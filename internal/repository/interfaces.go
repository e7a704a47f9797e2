// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/azarole/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindOrCreateUser は(provider, subject)に紐付くユーザーを返す。
	// 紐付けがない場合はユーザーとidentityを同一トランザクションで作成する。
	FindOrCreateUser(ctx context.Context, provider, subject string) (*model.User, error)
}

// APIKeyRepository はAPIキーの永続化インターフェース。
type APIKeyRepository interface {
	// Create はAPIキーを作成し、採番されたIDと作成日時を含めて返す。
	Create(ctx context.Context, userID int64, name, digest string) (*model.APIKey, error)

	// FindByDigest はダイジェストでAPIキーを検索する。見つからない場合はnilを返す。
	FindByDigest(ctx context.Context, digest string) (*model.APIKey, error)

	// ListByUserID はユーザーのAPIキーを作成日時の新しい順に返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.APIKey, error)

	// Delete はユーザーが所有するAPIキーを削除する。
	// 該当するキーがなかった場合はfalseを返す。
	Delete(ctx context.Context, userID, id int64) (bool, error)
}
