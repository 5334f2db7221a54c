package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SourceSet はSourceIDの集合。空集合は「すべてのSource」を意味する。
type SourceSet map[string]struct{}

// NewSourceSet はIDの一覧から集合を作る。
// 前後の空白を除去し、空文字列と重複を取り除く。
func NewSourceSet(ids ...string) SourceSet {
	set := make(SourceSet, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// IsEmpty は集合が空（すべてのSourceが対象）かどうかを返す。
func (s SourceSet) IsEmpty() bool {
	return len(s) == 0
}

// Contains はIDが集合に含まれるかを返す。
func (s SourceSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Allows は空集合ならすべて許可し、そうでなければ所属を判定する。
func (s SourceSet) Allows(id string) bool {
	return s.IsEmpty() || s.Contains(id)
}

// IDs はソート済みのID一覧を返す。DBへの書き込み用。
func (s SourceSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AlertPreference はユーザーごとのアラート配信設定。
// ユーザー登録時にデフォルト値で作成され、ユーザー自身のみが変更する。
type AlertPreference struct {
	UserID string

	// チャネル
	EmailEnabled bool
	InAppEnabled bool

	// カテゴリ別トグル
	FeeChangeAlerts   bool
	RequirementAlerts bool
	DeadlineAlerts    bool
	PolicyAlerts      bool
	SystemAlerts      bool

	// 配信頻度
	ImmediateAlerts bool
	DailyDigest     bool

	// MinSeverity は即時メールの最低重要度。nilはすべての重要度を受け取る。
	MinSeverity *Severity
	Sources     SourceSet

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultAlertPreference はユーザー登録時のデフォルト設定を返す。
func DefaultAlertPreference(userID string) *AlertPreference {
	now := time.Now().UTC()
	return &AlertPreference{
		UserID:            userID,
		EmailEnabled:      true,
		InAppEnabled:      true,
		FeeChangeAlerts:   true,
		RequirementAlerts: true,
		DeadlineAlerts:    true,
		PolicyAlerts:      true,
		SystemAlerts:      true,
		ImmediateAlerts:   true,
		DailyDigest:       false,
		Sources:           NewSourceSet(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate は永続化前に設定値を検証する。
func (p *AlertPreference) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if p.MinSeverity != nil && !p.MinSeverity.Valid() {
		return fmt.Errorf("invalid minimum severity: %d", int(*p.MinSeverity))
	}
	if p.Sources == nil {
		p.Sources = NewSourceSet()
	}
	return nil
}

// CategoryEnabled はアラート種別に対応するトグルが有効かを返す。
// 未知の種別はシステム扱いとする。
func (p *AlertPreference) CategoryEnabled(t AlertType) bool {
	switch t {
	case AlertTypeFeeChange:
		return p.FeeChangeAlerts
	case AlertTypeRequirement:
		return p.RequirementAlerts
	case AlertTypeDeadline:
		return p.DeadlineAlerts
	case AlertTypePolicy:
		return p.PolicyAlerts
	default:
		return p.SystemAlerts
	}
}

// MatchesSource はSourceフィルタがアラートのSourceを許可するかを返す。
// システム全体のアラート（SourceIDがnil）はフィルタに関係なく許可する。
func (p *AlertPreference) MatchesSource(sourceID *string) bool {
	if sourceID == nil {
		return true
	}
	return p.Sources.Allows(*sourceID)
}

// Matches はアラートがこのユーザーの関心対象かを返す。
func (p *AlertPreference) Matches(a *Alert) bool {
	return p.MatchesSource(a.SourceID) && p.CategoryEnabled(a.Type)
}

// MeetsSeverity はアラートの重要度が最低重要度以上かを返す。
func (p *AlertPreference) MeetsSeverity(s Severity) bool {
	if p.MinSeverity == nil {
		return true
	}
	return s.AtLeast(*p.MinSeverity)
}

// WantsImmediateEmail は即時メールを送るべきかを返す。
// 関心対象であることに加え、メール有効・即時配信有効・重要度条件を満たす必要がある。
func (p *AlertPreference) WantsImmediateEmail(a *Alert) bool {
	return p.Matches(a) &&
		p.EmailEnabled &&
		p.ImmediateAlerts &&
		p.MeetsSeverity(a.Severity)
}
