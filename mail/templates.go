package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/MrEthical07/agencyauth"
)

type message struct {
	Subject string
	HTML    string
	Text    string
}

type templateData struct {
	Heading string
	Intro   string
	Code    string
	Minutes int
	Ignore  string
}

var purposes = map[agencyauth.Purpose]struct {
	subject string
	data    templateData
}{
	agencyauth.PurposeRegistration: {
		subject: "Verify your email",
		data: templateData{
			Heading: "Verify your email address",
			Intro:   "Thank you for registering. Enter this code to complete your registration:",
			Ignore:  "If you did not create an account, you can ignore this email.",
		},
	},
	agencyauth.PurposeLogin: {
		subject: "Your login code",
		data: templateData{
			Heading: "Sign-in verification",
			Intro:   "Enter this code to finish signing in:",
			Ignore:  "If you did not try to sign in, change your password now.",
		},
	},
	agencyauth.PurposePasswordReset: {
		subject: "Password reset code",
		data: templateData{
			Heading: "Reset your password",
			Intro:   "Enter this code to choose a new password:",
			Ignore:  "If you did not ask for a reset, you can ignore this email. Your password has not changed.",
		},
	},
}

var htmlTemplate = htmltemplate.Must(htmltemplate.New("code").Parse(`<html>
<body style="font-family: sans-serif; color: #333;">
  <h2>{{.Heading}}</h2>
  <p>{{.Intro}}</p>
  <p style="font-size: 32px; font-weight: bold; letter-spacing: 8px; font-family: monospace;">{{.Code}}</p>
  <p>This code expires in {{.Minutes}} minutes.</p>
  <p>{{.Ignore}}</p>
  <p style="font-size: 12px; color: #666;">This is an automated email, please do not reply.</p>
</body>
</html>`))

var textTemplate = texttemplate.Must(texttemplate.New("code").Parse(`{{.Heading}}

{{.Intro}}

    {{.Code}}

This code expires in {{.Minutes}} minutes.

{{.Ignore}}
`))

func render(purpose agencyauth.Purpose, code string, ttl time.Duration) (message, error) {
	p, ok := purposes[purpose]
	if !ok {
		return message{}, fmt.Errorf("mail: unknown purpose %q", purpose)
	}
	data := p.data
	data.Code = code
	data.Minutes = int(ttl / time.Minute)

	var html, text bytes.Buffer
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return message{}, fmt.Errorf("render html: %w", err)
	}
	if err := textTemplate.Execute(&text, data); err != nil {
		return message{}, fmt.Errorf("render text: %w", err)
	}
	return message{Subject: p.subject, HTML: html.String(), Text: text.String()}, nil
}
