// Package notify はアラートのアプリ内通知とメール配信を提供する。
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Message は送信するHTMLメール1通。
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ImplicitTLS はポート465などで接続直後からTLSを使う場合にtrueにする。
	ImplicitTLS bool
}

// SMTPMailer はSMTPでメールを送信するMailer実装。
type SMTPMailer struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, now: time.Now}
}

// Send はメッセージをMIME形式に組み立ててSMTPで送信する。
// go-smtpの送信APIはcontextを受け取らないため、キャンセル時は結果を待たずにctxのエラーを返す。
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := composeMessage(m.cfg.From, m.cfg.FromName, msg, m.now())
	if err != nil {
		return err
	}

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	to := []string{msg.To}

	done := make(chan error, 1)
	go func() {
		if m.cfg.ImplicitTLS {
			done <- smtp.SendMailTLS(addr, auth, m.cfg.From, to, bytes.NewReader(body))
			return
		}
		done <- smtp.SendMail(addr, auth, m.cfg.From, to, bytes.NewReader(body))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("SMTP送信に失敗しました (%s): %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("SMTP送信がタイムアウトしました (%s): %w", msg.To, ctx.Err())
	}
}

// composeMessage はHTML本文1パートのメールを組み立てる。
func composeMessage(from, fromName string, msg Message, now time.Time) ([]byte, error) {
	toAddr, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: from}})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.HTML); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// compile-time interface check
var _ Mailer = (*SMTPMailer)(nil)
