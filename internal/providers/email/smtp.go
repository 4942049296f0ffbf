package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg       Config
	directory Directory
}

func NewSMTP(cfg Config, directory Directory) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, directory: directory}
}

func (p *SMTPProvider) SendToUser(ctx context.Context, userID string, subject string, htmlBody string, attachment []byte) error {
	to, err := p.directory.EmailForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var msg strings.Builder
	fmt.Fprintf(&msg, "To: %s\r\nFrom: %s\r\nSubject: %s\r\n", to, p.cfg.From, subject)

	if len(attachment) == 0 {
		msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		msg.WriteString(htmlBody)
		return smtp.SendMail(addr, auth, p.cfg.From, []string{to}, []byte(msg.String()))
	}

	boundary := "bookline-receipt"
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: application/pdf\r\nContent-Disposition: attachment; filename=\"receipt.pdf\"\r\nContent-Transfer-Encoding: base64\r\n\r\n", boundary)
	msg.WriteString(base64.StdEncoding.EncodeToString(attachment))
	fmt.Fprintf(&msg, "\r\n--%s--\r\n", boundary)

	return smtp.SendMail(addr, auth, p.cfg.From, []string{to}, []byte(msg.String()))
}
