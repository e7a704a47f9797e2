package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/azarole/internal/middleware"
	"github.com/hitoshi/azarole/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNotFound, model.ErrCodeAPIKeyNotFound:
		return http.StatusNotFound
	case model.ErrCodeCSRFTokenInvalid:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// userResponse はプリンシパルのレスポンス。
type userResponse struct {
	ID int64 `json:"id"`
}

// principalID はゲートキーパーが格納したユーザーIDを返す。
// ゲートキーパーを通らないルートに誤って登録された場合は401を書き込み、falseを返す。
func principalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return 0, false
	}
	return userID, true
}
