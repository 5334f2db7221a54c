// Package detect は保存済みの事実と新しく抽出した事実を比較し、フィールド単位の変更を生成する。
// 入力だけに依存する純粋な関数で構成され、ロックを必要としない。
package detect

import (
	"strings"

	"github.com/hitoshi/regwatch/internal/model"
	"github.com/hitoshi/regwatch/internal/scraper"
)

// Detect は旧・新の両方に値があり、かつ異なるフィールドごとに1件のChangeを返す。
// 結果はmodel.FactFieldsの順序に従う。新しいスクレイプで欠けているフィールドは未変更として扱う。
// 差分がない場合は空（nil）を返す。
func Detect(src *model.Source, old, new model.ScrapedFacts) []model.Change {
	var changes []model.Change

	if c, ok := compareFee(src, model.FieldRegistrationFee, old.RegistrationFee, new.RegistrationFee); ok {
		changes = append(changes, c)
	}
	if c, ok := compareFee(src, model.FieldRenewalFee, old.RenewalFee, new.RenewalFee); ok {
		changes = append(changes, c)
	}
	if old.ProcessingDays != nil && new.ProcessingDays != nil && *old.ProcessingDays != *new.ProcessingDays {
		changes = append(changes, newChange(src, model.FieldProcessingTime, model.ChangeProcessUpdate, old, new))
	}
	if differsTrimmed(old.ContactEmail, new.ContactEmail) {
		changes = append(changes, newChange(src, model.FieldContactEmail, model.ChangeContactUpdate, old, new))
	}
	if differsTrimmed(old.ContactPhone, new.ContactPhone) {
		changes = append(changes, newChange(src, model.FieldContactPhone, model.ChangeContactUpdate, old, new))
	}

	return changes
}

// compareFee は料金を完全一致で比較し、増減に応じたChangeTypeを付ける。
func compareFee(src *model.Source, field model.FactField, old, new *model.Pence) (model.Change, bool) {
	if old == nil || new == nil || *old == *new {
		return model.Change{}, false
	}
	changeType := model.ChangeFeeDecrease
	if *new > *old {
		changeType = model.ChangeFeeIncrease
	}
	return model.Change{
		SourceID:   src.ID,
		SourceName: src.Name,
		SourceURL:  src.URL,
		Field:      field,
		Type:       changeType,
		OldValue:   old.String(),
		NewValue:   new.String(),
	}, true
}

// differsTrimmed は前後の空白を除いて大文字小文字を区別して比較する。
func differsTrimmed(old, new *string) bool {
	if old == nil || new == nil {
		return false
	}
	return strings.TrimSpace(*old) != strings.TrimSpace(*new)
}

func newChange(src *model.Source, field model.FactField, t model.ChangeType, old, new model.ScrapedFacts) model.Change {
	oldValue, _ := old.Display(field)
	newValue, _ := new.Display(field)
	return model.Change{
		SourceID:   src.ID,
		SourceName: src.Name,
		SourceURL:  src.URL,
		Field:      field,
		Type:       t,
		OldValue:   strings.TrimSpace(oldValue),
		NewValue:   strings.TrimSpace(newValue),
	}
}

// Merge は新しい値があればそれを、なければ旧い値を採用した事実を返す。
// 既知の値を「見つからなかった」で上書きしない。
func Merge(old, new model.ScrapedFacts) model.ScrapedFacts {
	merged := old
	if new.RegistrationFee != nil {
		merged.RegistrationFee = new.RegistrationFee
	}
	if new.RenewalFee != nil {
		merged.RenewalFee = new.RenewalFee
	}
	if new.ProcessingDays != nil {
		merged.ProcessingDays = new.ProcessingDays
	}
	if new.ContactEmail != nil {
		merged.ContactEmail = trimmed(new.ContactEmail)
	}
	if new.ContactPhone != nil {
		merged.ContactPhone = trimmed(new.ContactPhone)
	}
	return merged
}

func trimmed(s *string) *string {
	v := strings.TrimSpace(*s)
	return &v
}

// DetectFeed はお知らせフィードの最新エントリが前回と異なる場合にPROCESS_UPDATEを返す。
// 前回のGUIDが未記録（初回取得）の場合はGUIDの記録だけを行い、変更は生成しない。
func DetectFeed(src *model.Source, newest *scraper.FeedEntry) (model.Change, bool) {
	if newest == nil || newest.GUID == "" {
		return model.Change{}, false
	}
	if src.LastFeedItemGUID == "" || src.LastFeedItemGUID == newest.GUID {
		return model.Change{}, false
	}

	link := newest.Link
	if link == "" {
		link = src.URL
	}
	return model.Change{
		SourceID:      src.ID,
		SourceName:    src.Name,
		SourceURL:     link,
		Field:         model.FieldAnnouncement,
		Type:          model.ChangeProcessUpdate,
		NewValue:      newest.Title,
		EffectiveDate: newest.PublishedAt,
	}, true
}
