// Package middleware はHTTPミドルウェアと、認証インターセプターの連結を提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/azarole/internal/model"
)

// Interceptor はリクエストを認証し、プリンシパルを返す。
// 拒否する場合はエラーを返す。リクエストの状態は変更しない。
type Interceptor func(r *http.Request) (*model.User, error)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var principalContextKey = contextKey("principal")

// Chain はインターセプターを順に実行し、すべて通過した場合のみ次のハンドラーを呼ぶミドルウェアを返す。
// 最後に返されたプリンシパルがコンテキストに格納される。
// いずれかが拒否した場合はStatusForAuthErrorのステータスで応答し、以降は実行しない。
func Chain(interceptors ...Interceptor) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *model.User
			for _, intercept := range interceptors {
				user, err := intercept(r)
				if err != nil {
					WriteAuthError(w, err)
					return
				}
				if user != nil {
					principal = user
				}
			}
			if principal == nil {
				// プリンシパルを返さないインターセプターだけでは通さない
				WriteAuthError(w, model.ErrMissingCredential)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// StatusForAuthError は認証エラーをHTTPステータスに変換する。
// インフラ障害は500、それ以外はすべて401。
func StatusForAuthError(err error) int {
	if errors.Is(err, model.ErrInternalFailure) {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// WriteAuthError は認証エラーのレスポンスを書き込む。
// 失敗の原因はレスポンスに含めない。
func WriteAuthError(w http.ResponseWriter, err error) {
	if StatusForAuthError(err) == http.StatusInternalServerError {
		slog.Error("authentication aborted by internal failure", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	WriteUnauthorized(w)
}

// ContextWithPrincipal はコンテキストにプリンシパルを格納する。
// リクエストログにもユーザーIDを記録する。
func ContextWithPrincipal(ctx context.Context, user *model.User) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.userID = user.ID
		info.hasUser = true
	}
	return context.WithValue(ctx, principalContextKey, user)
}

// PrincipalFromContext はゲートキーパーが格納したプリンシパルを取得する。
func PrincipalFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(principalContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はプリンシパルのユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (int64, bool) {
	user, ok := PrincipalFromContext(ctx)
	if !ok {
		return 0, false
	}
	return user.ID, true
}

// ContextWithUserID はユーザーIDのみを持つプリンシパルを格納する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return ContextWithPrincipal(ctx, &model.User{ID: userID})
}
