package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

func TestRenderAlertEmail(t *testing.T) {
	alert := feeAlert("leeds", model.SeverityHigh)

	msg, err := RenderAlertEmail("alice@example.com", "Alice", alert, "https://regwatch.example.com/settings")
	if err != nil {
		t.Fatalf("RenderAlertEmail returned error: %v", err)
	}

	if msg.To != "alice@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject != "[HIGH] Registration Fee Increased" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{
		"Hello Alice,",
		"Registration Fee Increased",
		"from £77 to £88",
		"1 April 2026",
		"https://leeds.example.gov.uk/hmo",
		"https://regwatch.example.com/settings",
	} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("本文に %q が含まれていない", want)
		}
	}
}

// アラート本文はHTMLエスケープされることを検証する。
func TestRenderAlertEmail_EscapesContent(t *testing.T) {
	alert := feeAlert("leeds", model.SeverityLow)
	alert.Title = `<script>alert("x")</script>`

	msg, err := RenderAlertEmail("alice@example.com", "", alert, "")
	if err != nil {
		t.Fatalf("RenderAlertEmail returned error: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Error("タイトルがエスケープされていない")
	}
	if !strings.Contains(msg.HTML, "Hello there,") {
		t.Error("名前が空の場合の挨拶が不正")
	}
	if strings.Contains(msg.HTML, "Manage your alert preferences") {
		t.Error("DashboardURLが空の場合はリンクを出さない")
	}
}

func TestRenderDigestEmail_KeepsOrder(t *testing.T) {
	first := feeAlert("leeds", model.SeverityCritical)
	first.Title = "New Requirement: Fire Safety Certificate"
	second := feeAlert("york", model.SeverityLow)
	second.Title = "Renewal Fee Decreased"
	since := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

	msg, err := RenderDigestEmail("bob@example.com", "Bob", []*model.Alert{first, second}, since, "")
	if err != nil {
		t.Fatalf("RenderDigestEmail returned error: %v", err)
	}
	if msg.Subject != "Your regulatory digest: 2 new alerts" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	i := strings.Index(msg.HTML, "New Requirement: Fire Safety Certificate")
	j := strings.Index(msg.HTML, "Renewal Fee Decreased")
	if i < 0 || j < 0 || i > j {
		t.Errorf("アラートの並び順が保たれていない: %d, %d", i, j)
	}
	if !strings.Contains(msg.HTML, "2 regulatory changes since 18 October 2026") {
		t.Error("件数と期間の表示が不正")
	}
}

func TestDigestSubject(t *testing.T) {
	if got := DigestSubject(1); got != "Your regulatory digest: 1 new alert" {
		t.Errorf("DigestSubject(1) = %q", got)
	}
	if got := DigestSubject(3); got != "Your regulatory digest: 3 new alerts" {
		t.Errorf("DigestSubject(3) = %q", got)
	}
}
