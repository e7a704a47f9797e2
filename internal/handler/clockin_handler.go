package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/azarole/internal/model"
)

// ClockInHandler はAPIキーで認証された機械クライアント向けの打刻エンドポイント。
type ClockInHandler struct{}

// NewClockInHandler はClockInHandlerを生成する。
func NewClockInHandler() *ClockInHandler {
	return &ClockInHandler{}
}

type clockInResponse struct {
	UserID      int64 `json:"user_id"`
	WorkplaceID int64 `json:"workplace_id"`
}

// Create は打刻を受け付け、認証済みユーザーと勤務先を返す。
// POST /api/workplaces/{workplace_id}/clock_ins
func (h *ClockInHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := principalID(w, r)
	if !ok {
		return
	}

	workplaceID, err := strconv.ParseInt(chi.URLParam(r, "workplace_id"), 10, 64)
	if err != nil || workplaceID <= 0 {
		handleServiceError(w, model.NewValidationError("workplace_id must be a positive integer"))
		return
	}

	writeJSON(w, http.StatusCreated, clockInResponse{
		UserID:      userID,
		WorkplaceID: workplaceID,
	})
}
