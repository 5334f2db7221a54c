package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

// ChangeIngester は外部で検知された変更を取り込み、アラートを作成・配信する。
type ChangeIngester interface {
	Ingest(ctx context.Context, c model.Change) (*model.Alert, error)
}

// ChangeHandler は変更取り込みのHTTPハンドラー。
type ChangeHandler struct {
	ingester ChangeIngester
	logger   *slog.Logger
}

// NewChangeHandler はChangeHandlerを生成する。
func NewChangeHandler(ingester ChangeIngester, logger *slog.Logger) *ChangeHandler {
	return &ChangeHandler{ingester: ingester, logger: logger}
}

// changeRequest は変更取り込みリクエストのボディ。
// sourceIdを省略した場合はシステム全体の変更として扱う。
type changeRequest struct {
	SourceID      string     `json:"sourceId"`
	Field         string     `json:"field"`
	Type          string     `json:"type"`
	OldValue      string     `json:"oldValue"`
	NewValue      string     `json:"newValue"`
	EffectiveDate *time.Time `json:"effectiveDate"`
}

// Ingest は変更を取り込んでアラートを作成する。
// POST /api/changes
func (h *ChangeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	alert, err := h.ingester.Ingest(r.Context(), model.Change{
		SourceID:      req.SourceID,
		Field:         model.FactField(req.Field),
		Type:          model.ChangeType(req.Type),
		OldValue:      req.OldValue,
		NewValue:      req.NewValue,
		EffectiveDate: req.EffectiveDate,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAlertResponse(alert))
}
