package email

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Recipient is the data available to subject and body templates.
type Recipient struct {
	Name  string
	Email string
}

// Content renders the subject and body of a certificate email.
type Content struct {
	subject *template.Template
	body    *template.Template
}

// ParseContent compiles subject and body templates. Both may reference
// {{.Name}} and {{.Email}}.
func ParseContent(subject, body string) (*Content, error) {
	st, err := template.New("subject").Option("missingkey=error").Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("email: invalid subject template: %w", err)
	}
	bt, err := template.New("body").Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("email: invalid body template: %w", err)
	}
	return &Content{subject: st, body: bt}, nil
}

// Render returns the subject and plain-text body for r.
func (c *Content) Render(r Recipient) (subject, body string, err error) {
	var sb, bb bytes.Buffer
	if err := c.subject.Execute(&sb, r); err != nil {
		return "", "", fmt.Errorf("email: failed to render subject: %w", err)
	}
	if err := c.body.Execute(&bb, r); err != nil {
		return "", "", fmt.Errorf("email: failed to render body: %w", err)
	}
	// A subject is a single header line.
	subject = strings.Join(strings.Fields(sb.String()), " ")
	return subject, bb.String(), nil
}
