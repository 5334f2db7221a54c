package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity はアラートの重要度を表す5段階の序数。
// INFO < LOW < MEDIUM < HIGH < CRITICAL の順序で比較できる。
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// String はDBやJSONで使う大文字の名前を返す。
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid は定義済みの重要度かどうかを返す。
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// AtLeast はsがminと同じかそれより重要かどうかを返す。
func (s Severity) AtLeast(min Severity) bool {
	return s >= min
}

// ParseSeverity は文字列から重要度を解析する。大文字小文字は区別しない。
func ParseSeverity(raw string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	for sev, name := range severityNames {
		if name == upper {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity: %q", raw)
}

// MarshalText はencoding.TextMarshalerを実装する。
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText はencoding.TextUnmarshalerを実装する。
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AlertType はアラートの種別。ユーザー設定のカテゴリ別トグルと1対1に対応する。
type AlertType string

const (
	AlertTypeFeeChange   AlertType = "FEE_CHANGE"
	AlertTypeRequirement AlertType = "REQUIREMENT"
	AlertTypeDeadline    AlertType = "DEADLINE"
	AlertTypePolicy      AlertType = "POLICY"
	AlertTypeSystem      AlertType = "SYSTEM"
)

// AlertStatus はアラートのライフサイクル状態。
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "ACTIVE"
	AlertStatusExpired  AlertStatus = "EXPIRED"
	AlertStatusArchived AlertStatus = "ARCHIVED"
)

// CanTransitionTo は状態遷移が許可されているかを返す。
// ACTIVE → EXPIRED、ACTIVE/EXPIRED → ARCHIVED のみ許可し、ARCHIVEDは終端状態。
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertStatusActive:
		return next == AlertStatusExpired || next == AlertStatusArchived
	case AlertStatusExpired:
		return next == AlertStatusArchived
	default:
		return false
	}
}

// AlertDraft は分類器の出力。IDや状態、タイムスタンプを持たない。
type AlertDraft struct {
	Type        AlertType
	Category    string
	Title       string
	Description string
	Severity    Severity
	Priority    int
}

// Alert はパイプラインの永続的な単位。監査のため削除されない。
// SeverityとPriorityは作成時に決定され、再計算されない。
type Alert struct {
	ID            string
	SourceID      *string // nilはシステム全体のアラート
	Type          AlertType
	Category      string
	Title         string
	Description   string
	EffectiveDate time.Time
	ExpiryDate    *time.Time
	Severity      Severity
	Priority      int
	Status        AlertStatus
	SourceURL     string
	ViewCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceIDString はSourceIDを文字列で返す。システム全体のアラートは空文字列。
func (a *Alert) SourceIDString() string {
	if a.SourceID == nil {
		return ""
	}
	return *a.SourceID
}
