// Package classify は検知された変更を、種別・重要度・優先度を持つアラートの下書きに変換する。
//
// 変換は ChangeType をキーとする固定のルール表で行う。重要度と優先度はアラート作成時に
// このルール表から決まり、その後再計算されることはない。優先度は種別ごとの定数であり、
// 施行日までの緊急度などによる動的な重み付けは行わない。
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/regwatch/internal/model"
)

// rule はChangeTypeごとの分類ルール。
type rule struct {
	Severity  model.Severity
	Priority  int
	AlertType model.AlertType
	// TitleFormat はフィールド表示名を1つ受け取る。
	TitleFormat string
	// Impact は説明文の末尾に付ける一文。
	Impact string
}

// rules は分類ルール表。model.AllChangeTypesのすべての値を網羅する（テストで強制）。
var rules = map[model.ChangeType]rule{
	model.ChangeFeeIncrease: {
		Severity:    model.SeverityHigh,
		Priority:    4,
		AlertType:   model.AlertTypeFeeChange,
		TitleFormat: "%s Increased",
		Impact:      "This increases the cost of new applications and renewals.",
	},
	model.ChangeFeeDecrease: {
		Severity:    model.SeverityLow,
		Priority:    2,
		AlertType:   model.AlertTypeFeeChange,
		TitleFormat: "%s Decreased",
		Impact:      "No action is required.",
	},
	model.ChangeRequirementAdded: {
		Severity:    model.SeverityCritical,
		Priority:    5,
		AlertType:   model.AlertTypeRequirement,
		TitleFormat: "New Requirement: %s",
		Impact:      "Existing properties may need remedial action to remain compliant.",
	},
	model.ChangeRequirementRemoved: {
		Severity:    model.SeverityLow,
		Priority:    2,
		AlertType:   model.AlertTypeRequirement,
		TitleFormat: "Requirement Removed: %s",
		Impact:      "This simplifies the application process.",
	},
	model.ChangeDeadlineChange: {
		Severity:    model.SeverityHigh,
		Priority:    4,
		AlertType:   model.AlertTypeDeadline,
		TitleFormat: "%s Deadline Changed",
		Impact:      "Check submission dates for affected applications.",
	},
	model.ChangeProcessUpdate: {
		Severity:    model.SeverityMedium,
		Priority:    3,
		AlertType:   model.AlertTypePolicy,
		TitleFormat: "%s Updated",
		Impact:      "Review the updated process before your next submission.",
	},
	model.ChangeContactUpdate: {
		Severity:    model.SeverityInfo,
		Priority:    1,
		AlertType:   model.AlertTypeSystem,
		TitleFormat: "%s Updated",
		Impact:      "Update your records with the new contact details.",
	},
	model.ChangeOther: {
		Severity:    model.SeverityMedium,
		Priority:    3,
		AlertType:   model.AlertTypePolicy,
		TitleFormat: "%s Changed",
		Impact:      "Review the source page for details.",
	},
}

// ruleFor はChangeTypeのルールを返す。未知の種別はOTHERとして扱う。
func ruleFor(t model.ChangeType) rule {
	if r, ok := rules[t]; ok {
		return r
	}
	return rules[model.ChangeOther]
}

// Classify は変更からアラートの下書きを生成する。副作用を持たない。
func Classify(c model.Change) model.AlertDraft {
	r := ruleFor(c.Type)
	fieldName := c.Field.DisplayName()

	return model.AlertDraft{
		Type:        r.AlertType,
		Category:    Category(c.Field),
		Title:       fmt.Sprintf(r.TitleFormat, fieldName),
		Description: describe(c, fieldName, r.Impact),
		Severity:    r.Severity,
		Priority:    r.Priority,
	}
}

// Category はフィールドからアラートのカテゴリを決める。
func Category(f model.FactField) string {
	switch f {
	case model.FieldRegistrationFee, model.FieldRenewalFee:
		return "fees"
	case model.FieldProcessingTime:
		return "processing"
	case model.FieldContactEmail, model.FieldContactPhone:
		return "contact"
	case model.FieldAnnouncement:
		return "announcements"
	case "":
		return "general"
	default:
		return strings.ToLower(string(f))
	}
}

// describe は変更前後の値から説明文を組み立てる。
func describe(c model.Change, fieldName, impact string) string {
	subject := c.SourceName
	if subject == "" {
		subject = "A monitored authority"
	}
	lowerField := strings.ToLower(fieldName)

	var sentence string
	switch {
	case c.Field == model.FieldAnnouncement:
		sentence = fmt.Sprintf("%s published a new announcement: %s.", subject, strings.TrimSuffix(c.NewValue, "."))
	case c.OldValue != "" && c.NewValue != "":
		sentence = fmt.Sprintf("%s changed the %s from %s to %s.", subject, lowerField, c.OldValue, c.NewValue)
	case c.NewValue != "":
		sentence = fmt.Sprintf("%s now lists the %s as %s.", subject, lowerField, c.NewValue)
	case c.OldValue != "":
		sentence = fmt.Sprintf("%s no longer lists the %s (previously %s).", subject, lowerField, c.OldValue)
	default:
		sentence = fmt.Sprintf("%s changed the %s.", subject, lowerField)
	}
	return sentence + " " + impact
}

// NewAlert は下書きと変更から永続化用のアラートを組み立てる。
// 施行日は変更の施行日、なければnow。ttlが正の場合は施行日とnowの遅い方+ttlを有効期限とする。
func NewAlert(draft model.AlertDraft, c model.Change, now time.Time, ttl time.Duration) *model.Alert {
	now = now.UTC()
	effective := now
	if c.EffectiveDate != nil {
		effective = c.EffectiveDate.UTC()
	}

	a := &model.Alert{
		ID:            uuid.New().String(),
		Type:          draft.Type,
		Category:      draft.Category,
		Title:         draft.Title,
		Description:   draft.Description,
		EffectiveDate: effective,
		Severity:      draft.Severity,
		Priority:      draft.Priority,
		Status:        model.AlertStatusActive,
		SourceURL:     c.SourceURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c.SourceID != "" {
		id := c.SourceID
		a.SourceID = &id
	}
	if ttl > 0 {
		base := effective
		if base.Before(now) {
			base = now
		}
		expiry := base.Add(ttl)
		a.ExpiryDate = &expiry
	}
	return a
}
