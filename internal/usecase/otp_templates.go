package usecase

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/arklim/credential-gate/internal/core/domain"
)

type otpMessage struct {
	subject string
	body    *template.Template
}

type otpTemplateData struct {
	Code       string
	TTLMinutes int
}

const otpLayout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{template "heading" .}}</h2>
  <p>{{template "intro" .}}</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>The code expires in {{.TTLMinutes}} minutes and can be used once.</p>
  <p>{{template "footer" .}}</p>
</body>
</html>`

var otpMessages = map[domain.OTPPurpose]otpMessage{
	domain.OTPPurposeRegistration: {
		subject: "Verify Your Account - OTP Code",
		body: template.Must(template.Must(template.New("registration").Parse(otpLayout)).Parse(
			`{{define "heading"}}Confirm your email address{{end}}` +
				`{{define "intro"}}Thanks for signing up. Enter this code to verify your account:{{end}}` +
				`{{define "footer"}}If you did not create an account, you can ignore this message.{{end}}`,
		)),
	},
	domain.OTPPurposePasswordReset: {
		subject: "Password Reset - OTP Code",
		body: template.Must(template.Must(template.New("password_reset").Parse(otpLayout)).Parse(
			`{{define "heading"}}Reset your password{{end}}` +
				`{{define "intro"}}We received a request to reset your password. Enter this code to choose a new one:{{end}}` +
				`{{define "footer"}}If you did not ask for a reset, your password stays unchanged.{{end}}`,
		)),
	},
}

func renderOTPMessage(purpose domain.OTPPurpose, data otpTemplateData) (string, string, error) {
	msg, ok := otpMessages[purpose]
	if !ok {
		return "", "", fmt.Errorf("no message template for purpose %q", purpose)
	}
	var buf bytes.Buffer
	if err := msg.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s message: %w", purpose, err)
	}
	return msg.subject, buf.String(), nil
}
