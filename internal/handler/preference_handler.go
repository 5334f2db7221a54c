package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/regwatch/internal/middleware"
	"github.com/hitoshi/regwatch/internal/model"
)

// PreferenceStore は配信設定の参照・保存インターフェース。
type PreferenceStore interface {
	FindByUserID(ctx context.Context, userID string) (*model.AlertPreference, error)
	Upsert(ctx context.Context, pref *model.AlertPreference) error
}

// PreferenceHandler はアラート配信設定のHTTPハンドラー。
type PreferenceHandler struct {
	prefs  PreferenceStore
	users  UserChecker
	logger *slog.Logger
}

// NewPreferenceHandler はPreferenceHandlerを生成する。
func NewPreferenceHandler(prefs PreferenceStore, users UserChecker, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, users: users, logger: logger}
}

// preferenceResponse は配信設定のAPIレスポンス。
type preferenceResponse struct {
	UserID            string          `json:"userId"`
	EmailEnabled      bool            `json:"emailEnabled"`
	InAppEnabled      bool            `json:"inAppEnabled"`
	FeeChangeAlerts   bool            `json:"feeChangeAlerts"`
	RequirementAlerts bool            `json:"requirementAlerts"`
	DeadlineAlerts    bool            `json:"deadlineAlerts"`
	PolicyAlerts      bool            `json:"policyAlerts"`
	SystemAlerts      bool            `json:"systemAlerts"`
	ImmediateAlerts   bool            `json:"immediateAlerts"`
	DailyDigest       bool            `json:"dailyDigest"`
	MinSeverity       *model.Severity `json:"minSeverity"`
	Sources           []string        `json:"sources"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// preferenceRequest は配信設定更新リクエストのボディ。
// 省略したフィールドは現在の値を維持する。minSeverityに空文字列を指定すると制限を解除する。
type preferenceRequest struct {
	EmailEnabled      *bool     `json:"emailEnabled"`
	InAppEnabled      *bool     `json:"inAppEnabled"`
	FeeChangeAlerts   *bool     `json:"feeChangeAlerts"`
	RequirementAlerts *bool     `json:"requirementAlerts"`
	DeadlineAlerts    *bool     `json:"deadlineAlerts"`
	PolicyAlerts      *bool     `json:"policyAlerts"`
	SystemAlerts      *bool     `json:"systemAlerts"`
	ImmediateAlerts   *bool     `json:"immediateAlerts"`
	DailyDigest       *bool     `json:"dailyDigest"`
	MinSeverity       *string   `json:"minSeverity"`
	Sources           *[]string `json:"sources"`
}

func toPreferenceResponse(p *model.AlertPreference) preferenceResponse {
	return preferenceResponse{
		UserID:            p.UserID,
		EmailEnabled:      p.EmailEnabled,
		InAppEnabled:      p.InAppEnabled,
		FeeChangeAlerts:   p.FeeChangeAlerts,
		RequirementAlerts: p.RequirementAlerts,
		DeadlineAlerts:    p.DeadlineAlerts,
		PolicyAlerts:      p.PolicyAlerts,
		SystemAlerts:      p.SystemAlerts,
		ImmediateAlerts:   p.ImmediateAlerts,
		DailyDigest:       p.DailyDigest,
		MinSeverity:       p.MinSeverity,
		Sources:           p.Sources.IDs(),
		UpdatedAt:         p.UpdatedAt,
	}
}

// Get はユーザーの配信設定を返す。未保存の場合はデフォルト設定を返す。
// GET /api/users/{id}/preferences
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	pref, ok := h.load(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPreferenceResponse(pref))
}

// Update はユーザーの配信設定を更新する。
// PUT /api/users/{id}/preferences
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req preferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pref, ok := h.load(w, r, userID)
	if !ok {
		return
	}
	if err := applyPreferenceRequest(pref, req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	pref.UpdatedAt = time.Now().UTC()

	if err := h.prefs.Upsert(r.Context(), pref); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("配信設定を更新しました", slog.String("user_id", userID))
	writeJSON(w, http.StatusOK, toPreferenceResponse(pref))
}

// load はユーザーの存在を確認し、保存済みまたはデフォルトの配信設定を返す。
func (h *PreferenceHandler) load(w http.ResponseWriter, r *http.Request, userID string) (*model.AlertPreference, bool) {
	exists, err := h.users.Exists(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return nil, false
	}
	if !exists {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(userID))
		return nil, false
	}

	pref, err := h.prefs.FindByUserID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return nil, false
	}
	if pref == nil {
		pref = model.DefaultAlertPreference(userID)
	}
	return pref, true
}

// applyPreferenceRequest は指定されたフィールドのみを設定に反映する。
func applyPreferenceRequest(p *model.AlertPreference, req preferenceRequest) error {
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setBool(&p.EmailEnabled, req.EmailEnabled)
	setBool(&p.InAppEnabled, req.InAppEnabled)
	setBool(&p.FeeChangeAlerts, req.FeeChangeAlerts)
	setBool(&p.RequirementAlerts, req.RequirementAlerts)
	setBool(&p.DeadlineAlerts, req.DeadlineAlerts)
	setBool(&p.PolicyAlerts, req.PolicyAlerts)
	setBool(&p.SystemAlerts, req.SystemAlerts)
	setBool(&p.ImmediateAlerts, req.ImmediateAlerts)
	setBool(&p.DailyDigest, req.DailyDigest)

	if req.MinSeverity != nil {
		if strings.TrimSpace(*req.MinSeverity) == "" {
			p.MinSeverity = nil
		} else {
			sev, err := model.ParseSeverity(*req.MinSeverity)
			if err != nil {
				return model.NewInvalidPreferenceError(err.Error())
			}
			p.MinSeverity = &sev
		}
	}
	if req.Sources != nil {
		p.Sources = model.NewSourceSet(*req.Sources...)
	}

	if err := p.Validate(); err != nil {
		return model.NewInvalidPreferenceError(err.Error())
	}
	return nil
}
