// Package handler は運用APIのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/regwatch/internal/middleware"
	"github.com/hitoshi/regwatch/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// alertResponse はアラートのAPIレスポンス。
type alertResponse struct {
	ID            string            `json:"id"`
	SourceID      *string           `json:"sourceId"`
	Type          model.AlertType   `json:"type"`
	Category      string            `json:"category"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	EffectiveDate time.Time         `json:"effectiveDate"`
	ExpiryDate    *time.Time        `json:"expiryDate"`
	Severity      model.Severity    `json:"severity"`
	Priority      int               `json:"priority"`
	Status        model.AlertStatus `json:"status"`
	SourceURL     string            `json:"sourceUrl,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func toAlertResponse(a *model.Alert) alertResponse {
	return alertResponse{
		ID:            a.ID,
		SourceID:      a.SourceID,
		Type:          a.Type,
		Category:      a.Category,
		Title:         a.Title,
		Description:   a.Description,
		EffectiveDate: a.EffectiveDate,
		ExpiryDate:    a.ExpiryDate,
		Severity:      a.Severity,
		Priority:      a.Priority,
		Status:        a.Status,
		SourceURL:     a.SourceURL,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// writeJSON はステータスコードとともにJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをdstに読み込む。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層のエラーを統一フォーマットのレスポンスに変換する。
// *model.APIError以外は内部エラーとしてログにのみ詳細を残す。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
