package model

import "time"

// ChangeType は検知された変更の種別を表す。
// 上流のプロデューサーが新しい種別を追加する可能性があるため、未知の値も受け入れる。
type ChangeType string

const (
	ChangeFeeIncrease        ChangeType = "FEE_INCREASE"
	ChangeFeeDecrease        ChangeType = "FEE_DECREASE"
	ChangeRequirementAdded   ChangeType = "REQUIREMENT_ADDED"
	ChangeRequirementRemoved ChangeType = "REQUIREMENT_REMOVED"
	ChangeDeadlineChange     ChangeType = "DEADLINE_CHANGE"
	ChangeProcessUpdate      ChangeType = "PROCESS_UPDATE"
	ChangeContactUpdate      ChangeType = "CONTACT_UPDATE"
	ChangeOther              ChangeType = "OTHER"
)

// AllChangeTypes は既知のChangeTypeをすべて返す。
// 分類ルール表の網羅性テストはこの一覧を基準にする。
func AllChangeTypes() []ChangeType {
	return []ChangeType{
		ChangeFeeIncrease,
		ChangeFeeDecrease,
		ChangeRequirementAdded,
		ChangeRequirementRemoved,
		ChangeDeadlineChange,
		ChangeProcessUpdate,
		ChangeContactUpdate,
		ChangeOther,
	}
}

// Change は1フィールドの変更前後の値を持つ不変のレコード。
// 永続化はされず、Alertの生成にのみ使われる。
type Change struct {
	SourceID   string // 空文字列はシステム全体の変更
	SourceName string
	SourceURL  string
	Field      FactField
	Type       ChangeType
	OldValue   string
	NewValue   string
	// EffectiveDate は変更の施行日。nilの場合はアラート作成時刻を使う。
	EffectiveDate *time.Time
}
