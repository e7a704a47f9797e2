// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/hitoshi/azarole/internal/auth"
	"github.com/hitoshi/azarole/internal/middleware"
	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginSignIn(sess auth.Session) (string, error)
	CompleteSignIn(ctx context.Context, sess auth.Session, params auth.CallbackParams) (*model.User, error)
	SignOut(sess auth.Session)
}

// initiateMediaTypes はサインイン開始で返せるレスポンス形式。先頭が既定。
var initiateMediaTypes = []contenttype.MediaType{
	contenttype.NewMediaType("text/html"),
	contenttype.NewMediaType("application/json"),
}

// AuthHandler はサインイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Initiate はGoogleへのサインインを開始する。
// GET|POST /auth/google
//
// 既定は認可URLへの302リダイレクト。Acceptでapplication/jsonを優先するクライアントには
// {"authorization_url": "..."} を返す。
func (h *AuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		slog.Error("session middleware is not installed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	authURL, err := h.service.BeginSignIn(sess)
	if err != nil {
		slog.Error("failed to begin sign-in", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if err := session.Commit(w); err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// wantsJSON はAcceptヘッダーがリダイレクトよりJSONを優先しているかを返す。
func wantsJSON(r *http.Request) bool {
	accepted, _, err := contenttype.GetAcceptableMediaType(r, initiateMediaTypes)
	if err != nil {
		return false
	}
	return accepted.Type == "application" && accepted.Subtype == "json"
}

// Callback はGoogleからのコールバックを処理する。
// GET|POST /auth/google/callback?code=xxx&state=yyy
//
// 成功時は200 {"user":{"id":N}}。認証失敗はどの段階でも同じ401、インフラ障害は500を返す。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		slog.Error("session middleware is not installed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	params := auth.CallbackParams{
		Code:  r.FormValue("code"),
		State: r.FormValue("state"),
		Error: r.FormValue("error"),
	}

	user, err := h.service.CompleteSignIn(r.Context(), sess, params)
	if err != nil {
		middleware.WriteAuthError(w, err)
		return
	}

	// セッションを保存できなければサインインは成立しない
	if err := session.Commit(w); err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]userResponse{
		"user": {ID: user.ID},
	})
}

// Signout はセッションを破棄し、IDを再発行する。
// DELETE /signout
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		slog.Error("session middleware is not installed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.service.SignOut(sess)
	if err := session.Commit(w); err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// CurrentUser はサインイン中のユーザーを返す。
// GET /current_user
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]userResponse{
		"user": {ID: userID},
	})
}
