// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は外部の規制当局ページやフィードから取り込んだ文字列から
// マークアップを取り除き、アラートのタイトル・本文やメールに安全に埋め込める
// プレーンテキストに変換する。bluemondayのStrictPolicyを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はプレーンテキスト化のインターフェースを定義する。
// フィードのエントリタイトルや手動登録された変更値の保存前に使用される。
type ContentSanitizerService interface {
	// PlainText はすべてのタグを除去し、HTMLエンティティを復号し、空白を正規化する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	PlainText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// PlainText はタグを除去したプレーンテキストを返す。
// StrictPolicyはエンティティをエスケープしたまま返すため、最後に復号する。
// 出力はhtml/templateでエスケープされる前提で、ここでは再エスケープしない。
func (s *contentSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
