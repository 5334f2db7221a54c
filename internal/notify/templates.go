package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

// severityColors はメール内の重要度バッジの色。
var severityColors = map[model.Severity]string{
	model.SeverityInfo:     "#64748b",
	model.SeverityLow:      "#0ea5e9",
	model.SeverityMedium:   "#f59e0b",
	model.SeverityHigh:     "#ea580c",
	model.SeverityCritical: "#dc2626",
}

var funcs = template.FuncMap{
	"severityColor": func(s model.Severity) string {
		if c, ok := severityColors[s]; ok {
			return c
		}
		return "#64748b"
	},
	"date": func(t time.Time) string {
		return t.Format("2 January 2006")
	},
}

const layoutHead = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="margin:0;padding:24px;background:#f8fafc;font-family:system-ui,-apple-system,'Segoe UI',Roboto,sans-serif;color:#1e293b;">
<div style="max-width:600px;margin:0 auto;background:#ffffff;border:1px solid #e2e8f0;border-radius:8px;padding:24px;">`

const layoutFoot = `{{if .DashboardURL}}<p style="margin-top:24px;"><a href="{{.DashboardURL}}" style="color:#2563eb;">Manage your alert preferences</a></p>{{end}}
</div>
</body>
</html>`

var alertTemplate = template.Must(template.New("alert").Funcs(funcs).Parse(layoutHead + `
<p>Hello {{.RecipientName}},</p>
<span style="display:inline-block;padding:2px 8px;border-radius:4px;color:#ffffff;background:{{severityColor .Alert.Severity}};font-size:12px;">{{.Alert.Severity}}</span>
<h2 style="margin:12px 0;">{{.Alert.Title}}</h2>
<p>{{.Alert.Description}}</p>
<p style="color:#64748b;font-size:13px;">Effective {{date .Alert.EffectiveDate}}</p>
{{if .Alert.SourceURL}}<p><a href="{{.Alert.SourceURL}}" style="color:#2563eb;">View the authority's page</a></p>{{end}}
` + layoutFoot))

var digestTemplate = template.Must(template.New("digest").Funcs(funcs).Parse(layoutHead + `
<p>Hello {{.RecipientName}},</p>
<p>{{len .Alerts}} regulatory {{if eq (len .Alerts) 1}}change{{else}}changes{{end}} since {{date .Since}}:</p>
{{range .Alerts}}
<div style="border-top:1px solid #e2e8f0;padding:12px 0;">
<span style="display:inline-block;padding:2px 8px;border-radius:4px;color:#ffffff;background:{{severityColor .Severity}};font-size:12px;">{{.Severity}}</span>
<strong style="margin-left:8px;">{{.Title}}</strong>
<p style="margin:8px 0 0;">{{.Description}}</p>
{{if .SourceURL}}<p style="margin:4px 0 0;"><a href="{{.SourceURL}}" style="color:#2563eb;">Source</a></p>{{end}}
</div>
{{end}}
` + layoutFoot))

type alertEmailData struct {
	Subject       string
	RecipientName string
	Alert         *model.Alert
	DashboardURL  string
}

type digestEmailData struct {
	Subject       string
	RecipientName string
	Alerts        []*model.Alert
	Since         time.Time
	DashboardURL  string
}

// AlertSubject は即時メールの件名を返す。
func AlertSubject(a *model.Alert) string {
	return fmt.Sprintf("[%s] %s", a.Severity, a.Title)
}

// DigestSubject はダイジェストメールの件名を返す。
func DigestSubject(count int) string {
	if count == 1 {
		return "Your regulatory digest: 1 new alert"
	}
	return fmt.Sprintf("Your regulatory digest: %d new alerts", count)
}

// RenderAlertEmail は即時アラートメールを組み立てる。
func RenderAlertEmail(to, recipientName string, a *model.Alert, dashboardURL string) (Message, error) {
	data := alertEmailData{
		Subject:       AlertSubject(a),
		RecipientName: displayName(recipientName),
		Alert:         a,
		DashboardURL:  dashboardURL,
	}
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("アラートメールの生成に失敗しました: %w", err)
	}
	return Message{To: to, Subject: data.Subject, HTML: buf.String()}, nil
}

// RenderDigestEmail はダイジェストメールを組み立てる。alertsは表示順に並んでいること。
func RenderDigestEmail(to, recipientName string, alerts []*model.Alert, since time.Time, dashboardURL string) (Message, error) {
	data := digestEmailData{
		Subject:       DigestSubject(len(alerts)),
		RecipientName: displayName(recipientName),
		Alerts:        alerts,
		Since:         since,
		DashboardURL:  dashboardURL,
	}
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("ダイジェストメールの生成に失敗しました: %w", err)
	}
	return Message{To: to, Subject: data.Subject, HTML: buf.String()}, nil
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
