package tokens

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/rhbot/rhbot/internal/session"
)

// VicunaTemplate is the chat template used by WizardLM-2 style models.
const VicunaTemplate = `{{- range .Messages -}}
{{- if eq .Role "system" -}}{{ .Content }} {{ else if eq .Role "user" -}}USER: {{ .Content }} {{ else if eq .Role "assistant" -}}ASSISTANT: {{ .Content }}</s>{{ else -}}{{ raise (printf "unknown role %q" .Role) }}{{- end -}}
{{- end -}}`

// TemplateCounter renders messages through a chat template and encodes the
// result. When rendering fails it falls back to summing the encoded length
// of each message's content, an approximation that ignores template overhead.
type TemplateCounter struct {
	tmpl *template.Template
	enc  Encoder
}

// NewTemplateCounter parses text as a text/template. The template receives
// a value with a Messages field of session.Turn and may call raise to abort.
func NewTemplateCounter(text string, enc Encoder) (*TemplateCounter, error) {
	tmpl, err := template.New("chat").Funcs(template.FuncMap{
		"raise": func(msg string) (string, error) {
			return "", fmt.Errorf("%s", msg)
		},
	}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chat template: %w", err)
	}
	return &TemplateCounter{tmpl: tmpl, enc: enc}, nil
}

// Count implements Counter.
func (c *TemplateCounter) Count(_ context.Context, messages []session.Turn) (int, error) {
	rendered, err := c.Render(messages)
	if err != nil {
		n := 0
		for _, msg := range messages {
			n += c.enc.Len(msg.Content)
		}
		return n, nil
	}
	return c.enc.Len(rendered), nil
}

// Render returns the prompt string the template produces for messages.
func (c *TemplateCounter) Render(messages []session.Turn) (string, error) {
	var sb strings.Builder
	data := struct{ Messages []session.Turn }{Messages: messages}
	if err := c.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render chat template: %w", err)
	}
	return sb.String(), nil
}
