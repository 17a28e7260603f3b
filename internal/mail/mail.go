package mail

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"
)

// Sender 通过 SMTP 发送密码重置邮件；未配置 SMTP_HOST 时只打日志，方便本地调试。
type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func NewSender(host, port, username, password, from string) *Sender {
	return &Sender{Host: host, Port: port, Username: username, Password: password, From: from}
}

const resetBody = "You are receiving this email because you (or someone else) have requested to reset the password on your Chit Chat account.\r\n\r\n" +
	"Please click on the link below, or paste it in your browser to reset your password. This link will expire within one hour of receiving it.\r\n\r\n" +
	"%s\r\n\r\n" +
	"If you did not request this, please ignore this email and your password will remain unchanged.\r\n"

// SendPasswordReset 发送带重置链接的邮件。
func (s *Sender) SendPasswordReset(to, link string) error {
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Reset Password for Chit Chat\r\n\r\n", s.From, to)
	message += fmt.Sprintf(resetBody, link)

	if s.Host == "" {
		log.Info().Str("to", to).Str("link", link).Msg("smtp not configured, password reset mail logged only")
		return nil
	}

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	return smtp.SendMail(addr, auth, s.From, []string{to}, []byte(message))
}
