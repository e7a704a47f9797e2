// Package apikey は機械クライアント向けAPIキーの発行・認証・管理を提供する。
package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/repository"
	"github.com/hitoshi/azarole/internal/security"
)

// MaxNameLength はAPIキー名の最大文字数。
const MaxNameLength = 255

type issueInput struct {
	Name string `validate:"required,max=255"`
}

// Service はAPIキーのビジネスロジックを提供する。
type Service struct {
	repo      repository.APIKeyRepository
	digester  *security.TokenDigester
	sanitizer *security.NameSanitizer
	validate  *validator.Validate
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	repo repository.APIKeyRepository,
	digester *security.TokenDigester,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		digester:  digester,
		sanitizer: security.NewNameSanitizer(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		metrics:   mc,
	}
}

// Issue は新しいAPIキーを発行する。
// 生のトークンは戻り値でのみ返し、保存するのはダイジェストだけである。
// 名前はマークアップを除去した後に1〜255文字でなければならない。
func (s *Service) Issue(ctx context.Context, userID int64, name string) (*model.IssuedAPIKey, error) {
	input := issueInput{Name: s.sanitizer.Sanitize(name)}
	if err := s.validate.Struct(input); err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("name must be 1 to %d characters", MaxNameLength))
	}

	token, err := security.GenerateToken(security.APIKeyTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key token: %w", err)
	}

	key, err := s.repo.Create(ctx, userID, input.Name, s.digester.Digest(token))
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	s.metrics.RecordAPIKeyIssued()
	slog.Info("api key issued",
		slog.Int64("user_id", userID),
		slog.Int64("api_key_id", key.ID),
	)

	return &model.IssuedAPIKey{
		ID:    key.ID,
		Name:  key.Name,
		Token: token,
	}, nil
}

// Authenticate はベアラートークンに対応するAPIキーの所有ユーザーを返す。
// 該当するキーがなければErrAPIKeyInvalid、ストレージ障害はErrInternalFailureを含むエラーを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.ErrMissingCredential
	}

	key, err := s.repo.FindByDigest(ctx, s.digester.Digest(token))
	if err != nil {
		return nil, model.Internal(model.ErrAPIKeyInvalid, err)
	}
	if key == nil {
		return nil, model.ErrAPIKeyInvalid
	}
	return &model.User{ID: key.UserID}, nil
}

// List はユーザーのAPIキーを作成日時の新しい順に返す。
func (s *Service) List(ctx context.Context, userID int64) ([]*model.APIKey, error) {
	keys, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Revoke はユーザーのAPIキーを削除する。
// 該当するキーがない、または他のユーザーのキーの場合はfalseを返す。
func (s *Service) Revoke(ctx context.Context, userID, id int64) (bool, error) {
	deleted, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key: %w", err)
	}
	if deleted {
		slog.Info("api key revoked",
			slog.Int64("user_id", userID),
			slog.Int64("api_key_id", id),
		)
	}
	return deleted, nil
}

// IsValidationError はIssueの入力検証エラーかどうかを返す。
func IsValidationError(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidation
}
