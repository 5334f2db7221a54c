// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Source は監視対象の外部規制当局（自治体など）を表す。
// 抽出に成功したときだけ変更検知によって更新され、削除はされない。
type Source struct {
	ID      string
	Name    string
	URL     string
	FeedURL string // お知らせフィードのURL（任意）
	Facts   ScrapedFacts

	LastFeedItemGUID  string
	ConsecutiveErrors int
	LastError         string
	LastScrapedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Pence はペンス単位の金額。浮動小数点を避けて完全一致で比較する。
type Pence int64

// PenceFromPounds はポンドとペンスからPenceを生成する。
func PenceFromPounds(pounds, pence int64) Pence {
	return Pence(pounds*100 + pence)
}

// String は "£77" または "£77.50" の形式で金額を返す。
// 1,000ポンド以上は千の位区切りを付ける。
func (p Pence) String() string {
	pounds := int64(p) / 100
	rem := int64(p) % 100
	s := groupThousands(pounds)
	if rem == 0 {
		return "£" + s
	}
	return fmt.Sprintf("£%s.%02d", s, rem)
}

func groupThousands(n int64) string {
	raw := fmt.Sprintf("%d", n)
	if len(raw) <= 3 {
		return raw
	}
	var b strings.Builder
	head := len(raw) % 3
	if head > 0 {
		b.WriteString(raw[:head])
	}
	for i := head; i < len(raw); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(raw[i : i+3])
	}
	return b.String()
}

// ScrapedFacts はページから抽出した型付きの事実。
// 各フィールドは独立して省略可能で、nilは「今回のスクレイプで見つからなかった」ことを示す。
type ScrapedFacts struct {
	RegistrationFee *Pence
	RenewalFee      *Pence
	ProcessingDays  *int
	ContactEmail    *string
	ContactPhone    *string
}

// IsEmpty は全フィールドが未設定かどうかを返す。
func (f ScrapedFacts) IsEmpty() bool {
	return f.RegistrationFee == nil &&
		f.RenewalFee == nil &&
		f.ProcessingDays == nil &&
		f.ContactEmail == nil &&
		f.ContactPhone == nil
}

// Count は設定済みフィールドの数を返す。
func (f ScrapedFacts) Count() int {
	n := 0
	for _, field := range FactFields() {
		if _, ok := f.Display(field); ok {
			n++
		}
	}
	return n
}

// Display はフィールドの表示用文字列を返す。未設定の場合はfalseを返す。
func (f ScrapedFacts) Display(field FactField) (string, bool) {
	switch field {
	case FieldRegistrationFee:
		if f.RegistrationFee != nil {
			return f.RegistrationFee.String(), true
		}
	case FieldRenewalFee:
		if f.RenewalFee != nil {
			return f.RenewalFee.String(), true
		}
	case FieldProcessingTime:
		if f.ProcessingDays != nil {
			return fmt.Sprintf("%d days", *f.ProcessingDays), true
		}
	case FieldContactEmail:
		if f.ContactEmail != nil {
			return *f.ContactEmail, true
		}
	case FieldContactPhone:
		if f.ContactPhone != nil {
			return *f.ContactPhone, true
		}
	}
	return "", false
}

// FactField は追跡対象フィールドを表す。
type FactField string

const (
	FieldRegistrationFee FactField = "registration_fee"
	FieldRenewalFee      FactField = "renewal_fee"
	FieldProcessingTime  FactField = "processing_time"
	FieldContactEmail    FactField = "contact_email"
	FieldContactPhone    FactField = "contact_phone"
	// FieldAnnouncement はお知らせフィードの最新エントリ。ScrapedFactsには含まれない。
	FieldAnnouncement FactField = "announcement"
)

// FactFields はScrapedFactsのフィールドを変更検知の出力順で返す。
func FactFields() []FactField {
	return []FactField{
		FieldRegistrationFee,
		FieldRenewalFee,
		FieldProcessingTime,
		FieldContactEmail,
		FieldContactPhone,
	}
}

// DisplayName はアラートのタイトルに使う表示名を返す。
func (f FactField) DisplayName() string {
	switch f {
	case FieldRegistrationFee:
		return "Registration Fee"
	case FieldRenewalFee:
		return "Renewal Fee"
	case FieldProcessingTime:
		return "Processing Time"
	case FieldContactEmail:
		return "Contact Email"
	case FieldContactPhone:
		return "Contact Phone"
	case FieldAnnouncement:
		return "Announcement"
	case "":
		return "Regulation"
	default:
		words := strings.Fields(strings.ReplaceAll(string(f), "_", " "))
		for i, w := range words {
			r, size := utf8.DecodeRuneInString(w)
			words[i] = string(unicode.ToUpper(r)) + w[size:]
		}
		return strings.Join(words, " ")
	}
}
