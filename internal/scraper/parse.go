package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hitoshi/regwatch/internal/model"
)

const (
	// maxFeePence は料金として受け入れる上限（£10,000未満）。ページ番号などの誤検出を防ぐ。
	maxFeePence = 10000 * 100
	// maxProcessingDays は処理期間として受け入れる上限（365日未満）。
	maxProcessingDays = 365
)

// registrationFeeKeywords は登録料のキーワード。先に並ぶものほど優先される。
var registrationFeeKeywords = []string{
	"registration fee",
	"hmo fee",
	"licence fee",
	"license fee",
	"application fee",
}

// renewalFeeKeywords は更新料のキーワード。
var renewalFeeKeywords = []string{
	"renewal fee",
	"renewal",
}

// processingKeywords は処理期間を示す文のキーワード。
var processingKeywords = []string{
	"processing time",
	"processing",
	"process your application",
	"decision",
	"determine",
	"take up to",
}

var (
	// currencyPattern は「£ + 数字（千の位区切りと小数2桁は任意）」に一致する。
	currencyPattern = regexp.MustCompile(`£\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?`)
	// durationPattern は「N weeks」「N working days」などに一致する。
	durationPattern = regexp.MustCompile(`(?i)\b(\d{1,4})\s*(?:working\s+|calendar\s+)?(weeks?|days?)\b`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// phonePattern は英国形式の電話番号（+44 または 0 始まり）に一致する。
	phonePattern = regexp.MustCompile(`(?:\+44\s?(?:\(0\)\s?)?|\b0)\d{2,4}[\s\-]?\d{3,4}[\s\-]?\d{3,4}\b`)
)

// ParseFacts は描画済みHTMLから事実を抽出する。
// 各パスは独立しており、1つのフィールドの失敗は他に影響しない。
// 各パスは範囲内の値を返した最初のキーワードで停止する（最初の一致を採用し、最良の一致は探さない）。
func ParseFacts(page string) (*model.ScrapedFacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}

	var units []string
	for _, n := range doc.Nodes {
		collectTextUnits(n, &units)
	}

	facts := &model.ScrapedFacts{
		RegistrationFee: extractFee(units, registrationFeeKeywords),
		RenewalFee:      extractFee(units, renewalFeeKeywords),
		ProcessingDays:  extractProcessingDays(units),
		ContactEmail:    extractEmail(doc, units),
		ContactPhone:    extractPhone(doc, units),
	}

	return facts, nil
}

// extractFee はキーワードを含むテキスト単位から、キーワード以降で最初の金額を取り出す。
// 1文に登録料と更新料が並ぶ場合に、前にある別の料金を拾わないようにする。
func extractFee(units []string, keywords []string) *model.Pence {
	for _, keyword := range keywords {
		for _, unit := range units {
			// 金額の記号と数字は小文字化で変わらないため、小文字化した文字列上で位置と金額を探す
			lower := strings.ToLower(unit)
			idx := strings.Index(lower, keyword)
			if idx < 0 {
				continue
			}
			m := currencyPattern.FindStringSubmatch(lower[idx:])
			if m == nil {
				continue
			}
			fee, ok := parsePence(m[1], m[2])
			if !ok || fee <= 0 || fee >= maxFeePence {
				continue
			}
			return &fee
		}
	}
	return nil
}

// parsePence は "1,250" と "50" のような整数部と小数部をPenceに変換する。
func parsePence(whole, fraction string) (model.Pence, bool) {
	pounds, err := strconv.ParseInt(strings.ReplaceAll(whole, ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	var pence int64
	if fraction != "" {
		if len(fraction) == 1 {
			fraction += "0"
		}
		pence, err = strconv.ParseInt(fraction, 10, 64)
		if err != nil {
			return 0, false
		}
	}
	return model.PenceFromPounds(pounds, pence), true
}

// extractProcessingDays は処理期間を日数で返す。週は7日に換算する。
func extractProcessingDays(units []string) *int {
	for _, keyword := range processingKeywords {
		for _, unit := range units {
			if !strings.Contains(strings.ToLower(unit), keyword) {
				continue
			}
			m := durationPattern.FindStringSubmatch(unit)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			days := n
			if strings.HasPrefix(strings.ToLower(m[2]), "week") {
				days = n * 7
			}
			if days <= 0 || days >= maxProcessingDays {
				continue
			}
			return &days
		}
	}
	return nil
}

// extractEmail はmailto:リンクを優先し、見つからなければ本文を正規表現で検索する。
func extractEmail(doc *goquery.Document, units []string) *string {
	var found string
	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if unescaped, err := url.PathUnescape(addr); err == nil {
			addr = unescaped
		}
		addr = strings.TrimSpace(addr)
		if emailPattern.MatchString(addr) {
			found = addr
			return false
		}
		return true
	})
	if found == "" {
		for _, unit := range units {
			if m := emailPattern.FindString(unit); m != "" {
				found = m
				break
			}
		}
	}
	if found == "" {
		return nil
	}
	return &found
}

// extractPhone はtel:リンクを優先し、見つからなければ本文を正規表現で検索する。
func extractPhone(doc *goquery.Document, units []string) *string {
	var found string
	doc.Find(`a[href^="tel:"], a[href^="TEL:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		number := strings.TrimSpace(href[len("tel:"):])
		if unescaped, err := url.PathUnescape(number); err == nil {
			number = strings.TrimSpace(unescaped)
		}
		if number != "" {
			found = number
			return false
		}
		return true
	})
	if found == "" {
		for _, unit := range units {
			if m := phonePattern.FindString(unit); m != "" {
				found = strings.TrimSpace(m)
				break
			}
		}
	}
	if found == "" {
		return nil
	}
	return &found
}

// skippedTags は本文として扱わない要素。
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"head":     true,
}

// blockTags はテキスト単位の境界となるブロック要素。
var blockTags = map[string]bool{
	"p": true, "li": true, "td": true, "th": true, "dd": true, "dt": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"div": true, "section": true, "article": true, "main": true, "aside": true,
	"header": true, "footer": true, "nav": true, "ul": true, "ol": true, "dl": true,
	"table": true, "tbody": true, "thead": true, "tfoot": true, "tr": true,
	"blockquote": true, "form": true, "fieldset": true, "body": true, "html": true,
	"caption": true, "figure": true, "figcaption": true, "address": true, "br": true,
}

// collectTextUnits はDOMを走査し、キーワードと値の同居判定に使うテキスト単位を収集する。
// テーブル行は行全体を1単位とし（「項目 | 金額」のセル分割に対応）、
// それ以外はブロック要素の間にあるインラインテキストの連続を1単位とする。
func collectTextUnits(n *html.Node, units *[]string) {
	if n.Type == html.ElementNode && skippedTags[n.Data] {
		return
	}
	if n.Type == html.ElementNode && n.Data == "tr" {
		appendUnit(units, nodeText(n))
		return
	}

	var run strings.Builder
	flush := func() {
		appendUnit(units, run.String())
		run.Reset()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			run.WriteString(c.Data)
			run.WriteByte(' ')
		case c.Type == html.ElementNode && skippedTags[c.Data]:
			continue
		case c.Type == html.ElementNode && (blockTags[c.Data] || hasBlockDescendant(c)):
			flush()
			collectTextUnits(c, units)
		case c.Type == html.ElementNode:
			run.WriteString(nodeText(c))
			run.WriteByte(' ')
		case c.Type == html.DocumentNode:
			collectTextUnits(c, units)
		}
	}
	flush()
}

// hasBlockDescendant は子孫にブロック要素を持つかを返す。
func hasBlockDescendant(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || skippedTags[c.Data] {
			continue
		}
		if blockTags[c.Data] || hasBlockDescendant(c) {
			return true
		}
	}
	return false
}

// nodeText は要素配下の可視テキストを連結する。
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && skippedTags[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// appendUnit は空白を正規化して空でない単位を追加する。
func appendUnit(units *[]string, text string) {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized != "" {
		*units = append(*units, normalized)
	}
}
