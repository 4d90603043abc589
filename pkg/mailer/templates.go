package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

// Kind identifies a transactional email template.
type Kind string

const (
	KindWelcome           Kind = "welcome"
	KindInvitation        Kind = "invitation"
	KindPurchase          Kind = "purchase"
	KindCourseApproved    Kind = "course_approved"
	KindCourseRejected    Kind = "course_rejected"
	KindCertificateIssued Kind = "certificate_issued"
)

type emailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

const layout = `<html><body style="font-family: Arial, sans-serif; color: #1b263b;">
<div style="max-width: 600px; margin: 24px auto;">{{template "content" .}}
<p style="font-size: 12px; color: #888888;">You are receiving this email because you have an account on our learning platform.</p>
</div></body></html>`

var templates = map[Kind]struct{ subject, body string }{
	KindWelcome: {
		subject: `Welcome, {{.Name}}`,
		body:    `<h3>Welcome aboard, {{.Name}}!</h3><p>Your account is ready. <a href="{{.Link}}">Start learning</a>.</p>`,
	},
	KindInvitation: {
		subject: `You have been invited to {{.Organization}}`,
		body:    `<h3>Hello {{.Name}},</h3><p>{{.Organization}} has granted you access to its courses. <a href="{{.Link}}">Sign in</a> to get started.</p>`,
	},
	KindPurchase: {
		subject: `You are enrolled in {{.Course}}`,
		body:    `<h3>Enrollment confirmed</h3><p>You now have access to <strong>{{.Course}}</strong>. <a href="{{.Link}}">Open the course</a>.</p>`,
	},
	KindCourseApproved: {
		subject: `Your course "{{.Course}}" was approved`,
		body:    `<h3>Congratulations!</h3><p>Your course <strong>{{.Course}}</strong> is now published. <a href="{{.Link}}">View it</a>.</p>`,
	},
	KindCourseRejected: {
		subject: `Your course "{{.Course}}" needs changes`,
		body:    `<h3>Review feedback</h3><p>Your course <strong>{{.Course}}</strong> was returned to draft.</p>{{if .Note}}<p>Reviewer note: {{.Note}}</p>{{end}}<p><a href="{{.Link}}">Edit the course</a>.</p>`,
	},
	KindCertificateIssued: {
		subject: `Certificate for {{.Course}}`,
		body:    `<h3>Well done, {{.Name}}!</h3><p>You completed <strong>{{.Course}}</strong>. Certificate number: {{.Certificate}}.</p><p><a href="{{.Link}}">View your certificates</a>.</p>`,
	},
}

var compiled = mustCompile()

func mustCompile() map[Kind]emailTemplate {
	out := make(map[Kind]emailTemplate, len(templates))
	for kind, tpl := range templates {
		body := template.Must(template.New("layout").Option("missingkey=zero").Parse(layout))
		template.Must(body.New("content").Parse(tpl.body))
		out[kind] = emailTemplate{
			subject: texttemplate.Must(texttemplate.New("subject").Option("missingkey=zero").Parse(tpl.subject)),
			body:    body,
		}
	}
	return out
}

// Render builds subject and HTML body for a template kind.
func Render(kind Kind, args map[string]string) (string, string, error) {
	tpl, ok := compiled[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", kind)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, args); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := tpl.body.ExecuteTemplate(&body, "layout", args); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", kind, err)
	}
	return subject.String(), body.String(), nil
}
