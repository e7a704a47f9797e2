package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/azarole/internal/model"
)

// maxAPIKeyRequestBody はAPIキー作成リクエストの最大サイズ。
const maxAPIKeyRequestBody = 4 << 10

// APIKeyServiceInterface はAPIキーハンドラーが必要とするサービスインターフェース。
type APIKeyServiceInterface interface {
	Issue(ctx context.Context, userID int64, name string) (*model.IssuedAPIKey, error)
	List(ctx context.Context, userID int64) ([]*model.APIKey, error)
	Revoke(ctx context.Context, userID, id int64) (bool, error)
}

// APIKeyHandler はAPIキー管理のHTTPハンドラー。
type APIKeyHandler struct {
	service APIKeyServiceInterface
}

// NewAPIKeyHandler はAPIKeyHandlerを生成する。
func NewAPIKeyHandler(service APIKeyServiceInterface) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

type apiKeyResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type issuedAPIKeyResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// List はサインイン中のユーザーのAPIキーを新しい順に返す。トークンは含まない。
// GET /api_keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}

	keys, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, apiKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string][]apiKeyResponse{"api_keys": resp})
}

// Create はAPIキーを発行する。生のトークンはこのレスポンスでのみ返す。
// POST /api_keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}

	name, err := readAPIKeyName(w, r)
	if err != nil {
		handleServiceError(w, model.NewValidationError("request body is malformed"))
		return
	}

	issued, err := h.service.Issue(r.Context(), userID, name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]issuedAPIKeyResponse{
		"api_key": {ID: issued.ID, Name: issued.Name, Token: issued.Token},
	})
}

// readAPIKeyName はJSONまたはフォームのリクエストからnameを読み取る。
func readAPIKeyName(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIKeyRequestBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req createAPIKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Name, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("name"), nil
}

// Delete はAPIキーを削除する。
// 存在しない、または他のユーザーのキーの場合は404を返す。
// DELETE /api_keys/{id}
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		handleServiceError(w, model.NewAPIKeyNotFoundError(0))
		return
	}

	deleted, err := h.service.Revoke(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !deleted {
		handleServiceError(w, model.NewAPIKeyNotFoundError(id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
