package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/session"
)

// ゲートキーパー名（メトリクスのラベル）
const (
	GatekeeperSession = "session"
	GatekeeperAPIKey  = "api_key"
)

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// Authenticator はAPIキーのトークンを検証し、所有ユーザーを返す。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RequireSignin はセッションのuser_idでユーザーを解決するインターセプターを返す。
//
// user_idがない場合は拒否する。ユーザーが存在しない場合はセッションからuser_idを削除して拒否する。
// ユーザー検索の失敗はErrInternalFailureとして拒否する。
func RequireSignin(users UserFinder, mc metrics.MetricsCollector) Interceptor {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return observe(GatekeeperSession, mc, func(r *http.Request) (*model.User, error) {
		sess, err := session.FromContext(r.Context())
		if err != nil {
			return nil, model.Internal(model.ErrSessionInvalid, err)
		}

		raw, ok := sess.Get(session.KeyUserID)
		if !ok {
			return nil, model.ErrMissingCredential
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			sess.Remove(session.KeyUserID)
			return nil, fmt.Errorf("%w: malformed user_id", model.ErrSessionInvalid)
		}

		user, err := users.FindByID(r.Context(), userID)
		if err != nil {
			return nil, model.Internal(model.ErrSessionInvalid, err)
		}
		if user == nil {
			sess.Remove(session.KeyUserID)
			return nil, fmt.Errorf("%w: user %d no longer exists", model.ErrSessionInvalid, userID)
		}
		return user, nil
	})
}

// RequireAPIKey はAuthorizationヘッダーのベアラートークンで認証するインターセプターを返す。
func RequireAPIKey(auth Authenticator, mc metrics.MetricsCollector) Interceptor {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return observe(GatekeeperAPIKey, mc, func(r *http.Request) (*model.User, error) {
		token, ok := BearerToken(r)
		if !ok {
			return nil, model.ErrMissingCredential
		}
		return auth.Authenticate(r.Context(), token)
	})
}

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// スキームの大文字小文字は区別しない。トークンは空白を含んではならない。
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimLeft(token, " ")
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}

// observe は拒否理由をログとメトリクスに記録する。
func observe(gatekeeper string, mc metrics.MetricsCollector, next Interceptor) Interceptor {
	return func(r *http.Request) (*model.User, error) {
		user, err := next(r)
		if err == nil {
			return user, nil
		}

		reason := rejectionReason(err)
		mc.RecordAuthRejection(gatekeeper, reason)
		slog.Warn("request rejected by gatekeeper",
			slog.String("gatekeeper", gatekeeper),
			slog.String("reason", reason),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInternalFailure):
		return "internal"
	case errors.Is(err, model.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, model.ErrAPIKeyInvalid):
		return "api_key_invalid"
	case errors.Is(err, model.ErrSessionInvalid):
		return "session_invalid"
	default:
		return "other"
	}
}
