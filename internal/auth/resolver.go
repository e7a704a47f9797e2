package auth

import (
	"context"
	"errors"

	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/repository"
)

// UserResolver は外部IdPのsubjectをローカルユーザーに解決する。
type UserResolver struct {
	identities repository.IdentityRepository
	provider   string
}

// NewUserResolver はGoogleアカウント用のUserResolverを生成する。
func NewUserResolver(identities repository.IdentityRepository) *UserResolver {
	return &UserResolver{identities: identities, provider: model.ProviderGoogle}
}

// Resolve はsubjectに紐付くユーザーを返す。紐付けがなければ作成する。
// ストレージの失敗はErrUserResolutionFailedかつErrInternalFailureとして返す。
func (r *UserResolver) Resolve(ctx context.Context, subject string) (*model.User, error) {
	if subject == "" {
		return nil, errors.Join(model.ErrUserResolutionFailed, errors.New("subject is empty"))
	}

	user, err := r.identities.FindOrCreateUser(ctx, r.provider, subject)
	if err != nil {
		return nil, model.Internal(model.ErrUserResolutionFailed, err)
	}
	if user == nil {
		return nil, model.Internal(model.ErrUserResolutionFailed, errors.New("no user returned"))
	}
	return user, nil
}
