package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/regwatch/internal/middleware"
	"github.com/hitoshi/regwatch/internal/model"
)

// AlertStore はアラートハンドラーが必要とするアラートの参照・更新インターフェース。
type AlertStore interface {
	FindByID(ctx context.Context, id string) (*model.Alert, error)
	Archive(ctx context.Context, id string) (*model.Alert, error)
}

// AcknowledgementStore はアラート確認記録の保存インターフェース。
type AcknowledgementStore interface {
	Upsert(ctx context.Context, ack *model.Acknowledgement) error
}

// UserChecker はユーザーの存在確認に使うインターフェース。
type UserChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// AlertHandler はアラートのライフサイクル操作のHTTPハンドラー。
type AlertHandler struct {
	alerts AlertStore
	acks   AcknowledgementStore
	users  UserChecker
	logger *slog.Logger
	now    func() time.Time
}

// NewAlertHandler はAlertHandlerを生成する。
func NewAlertHandler(alerts AlertStore, acks AcknowledgementStore, users UserChecker, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		acks:   acks,
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// acknowledgementRequest はアラート確認リクエストのボディ。
type acknowledgementRequest struct {
	UserID    string `json:"userId"`
	Dismissed bool   `json:"dismissed"`
}

// alertIDParam はURLの{id}を取り出す。UUIDとして解釈できないIDは存在しないアラートとして404を返す。
func alertIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	alertID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(alertID); err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAlertNotFoundError(alertID))
		return "", false
	}
	return alertID, true
}

// Archive はアラートをARCHIVEDに遷移させる。
// POST /api/alerts/{id}/archive
func (h *AlertHandler) Archive(w http.ResponseWriter, r *http.Request) {
	alertID, ok := alertIDParam(w, r)
	if !ok {
		return
	}

	alert, err := h.alerts.Archive(r.Context(), alertID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if alert == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAlertNotFoundError(alertID))
		return
	}

	h.logger.Info("アラートをアーカイブしました", slog.String("alert_id", alert.ID))
	writeJSON(w, http.StatusOK, toAlertResponse(alert))
}

// Acknowledge はユーザーがアラートを確認（または却下）したことを記録する。
// 確認済みのアラートはそのユーザーのダイジェストから除外される。
// POST /api/alerts/{id}/acknowledgements
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	alertID, ok := alertIDParam(w, r)
	if !ok {
		return
	}

	var req acknowledgementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "userIdは必須です。",
			Category: "validation",
			Action:   "確認したユーザーのIDを指定してください。",
		})
		return
	}

	alert, err := h.alerts.FindByID(r.Context(), alertID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if alert == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAlertNotFoundError(alertID))
		return
	}

	exists, err := h.users.Exists(r.Context(), req.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if !exists {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(req.UserID))
		return
	}

	now := h.now().UTC()
	ack := &model.Acknowledgement{
		UserID:  req.UserID,
		AlertID: alert.ID,
		ReadAt:  now,
	}
	if req.Dismissed {
		ack.DismissedAt = &now
	}
	if err := h.acks.Upsert(r.Context(), ack); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
