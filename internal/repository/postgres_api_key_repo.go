package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/azarole/internal/model"
)

// PostgresAPIKeyRepo はPostgreSQLを使用したAPIキーリポジトリ。
// digest列には一意制約とインデックスがあり、FindByDigestは索引検索になる。
type PostgresAPIKeyRepo struct {
	db *sql.DB
}

// NewPostgresAPIKeyRepo はPostgresAPIKeyRepoを生成する。
func NewPostgresAPIKeyRepo(db *sql.DB) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{db: db}
}

const apiKeyColumns = `id, user_id, name, digest, created_at`

// Create はAPIキーを作成する。
func (r *PostgresAPIKeyRepo) Create(ctx context.Context, userID int64, name, digest string) (*model.APIKey, error) {
	key := &model.APIKey{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (user_id, name, digest)
		 VALUES ($1, $2, $3)
		 RETURNING `+apiKeyColumns,
		userID, name, digest,
	).Scan(&key.ID, &key.UserID, &key.Name, &key.Digest, &key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert api key: %w", err)
	}
	return key, nil
}

// FindByDigest はダイジェストでAPIキーを検索する。見つからない場合はnilを返す。
func (r *PostgresAPIKeyRepo) FindByDigest(ctx context.Context, digest string) (*model.APIKey, error) {
	key := &model.APIKey{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE digest = $1`,
		digest,
	).Scan(&key.ID, &key.UserID, &key.Name, &key.Digest, &key.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key by digest: %w", err)
	}
	return key, nil
}

// ListByUserID はユーザーのAPIキーを作成日時の新しい順に返す。
func (r *PostgresAPIKeyRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*model.APIKey{}
	for rows.Next() {
		key := &model.APIKey{}
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.Digest, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

// Delete はユーザーが所有するAPIキーを削除する。
func (r *PostgresAPIKeyRepo) Delete(ctx context.Context, userID, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// compile-time interface check
var _ APIKeyRepository = (*PostgresAPIKeyRepo)(nil)
