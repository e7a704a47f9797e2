package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/azarole/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindOrCreateUser は(provider, subject)に紐付くユーザーを返す。
//
// 1トランザクション内で紐付けを検索し、なければusersとidentitiesに挿入する。
// 同一subjectの初回サインインが並行した場合は(provider, subject)の一意制約で
// 後続側の挿入が衝突するため、後続側はロールバックして先行側のユーザーを返す。
func (r *PostgresIdentityRepo) FindOrCreateUser(ctx context.Context, provider, subject string) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := findLinkedUser(ctx, tx, provider, subject)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, nil
	}

	created := &model.User{}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users DEFAULT VALUES RETURNING id, created_at`,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	var linkedUserID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO identities (user_id, provider, subject)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, subject) DO NOTHING
		 RETURNING user_id`,
		created.ID, provider, subject,
	).Scan(&linkedUserID)

	if errors.Is(err, sql.ErrNoRows) {
		// 作成したユーザーはdeferのロールバックで破棄される
		winner, err := findLinkedUser(ctx, tx, provider, subject)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("identity insert conflicted but no link found")
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return created, nil
}

func findLinkedUser(ctx context.Context, tx *sql.Tx, provider, subject string) (*model.User, error) {
	user := &model.User{}
	err := tx.QueryRowContext(ctx,
		`SELECT u.id, u.created_at
		 FROM identities i
		 JOIN users u ON u.id = i.user_id
		 WHERE i.provider = $1 AND i.subject = $2`,
		provider, subject,
	).Scan(&user.ID, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
