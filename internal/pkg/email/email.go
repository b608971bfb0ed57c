package email

import (
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/seomaster/report_server/config"
)

const productName = "SEO Master"

type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

// SendVerificationOTP 发送邮箱验证码
func (s *Service) SendVerificationOTP(to, firstName, code string) error {
	subject := "Verify your email - " + productName
	body := otpBody(firstName, code,
		"Thanks for signing up. Use the code below to verify your email address.")
	return s.sendHTML(to, subject, body)
}

// SendPasswordResetOTP 发送密码重置验证码
func (s *Service) SendPasswordResetOTP(to, firstName, code string) error {
	subject := "Reset your password - " + productName
	body := otpBody(firstName, code,
		"We received a request to reset your password. Use the code below to continue.")
	return s.sendHTML(to, subject, body)
}

func otpBody(firstName, code, intro string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <p>Hi %s,</p>
        <p>%s</p>
        <div style="background-color: #f3f4f6; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px; margin: 20px 0;">
            %s
        </div>
        <p>This code expires in 10 minutes.</p>
        <p>If you did not request this, you can ignore this email.</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">%s</p>
    </div>
</body>
</html>
`, firstName, intro, code, productName)
}

// buildMessage 组装 MIME 邮件，头部顺序固定
func (s *Service) buildMessage(to, subject, body string) []byte {
	headers := map[string]string{
		"From":         s.cfg.From,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg strings.Builder
	for _, k := range keys {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, headers[k]))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// sendHTML 发送 HTML 邮件
func (s *Service) sendHTML(to, subject, body string) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, s.buildMessage(to, subject, body))
}
