package notify

import (
	"bytes"
	"errors"
	htmltemplate "html/template"
	"text/template"
	"time"

	alarms "hisens-cloud/internal/alarms/domain"
)

const emailBodyTemplate = `<h2>⚠️ {{.EventType}}</h2><p>Sensor: {{.Sensor}}</p><p>{{.Message}}</p>`

// DefaultTextTemplate renders the chat webhook message.
const DefaultTextTemplate = `[{{.EventType}}] {{.Sensor}}
Nodo: {{.NodeID}}
{{.Message}}
Hora: {{.At}}`

// TemplateData provides fields for rendering alert content.
type TemplateData struct {
	EventType string
	Sensor    string
	SensorID  string
	NodeID    string
	Value     string
	Limit     string
	Unit      string
	Message   string
	At        string
}

// Content is one rendered alert.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Template renders alert content.
type Template struct {
	html *htmltemplate.Template
	text *template.Template
}

// NewTemplate parses the text template, falling back to DefaultTextTemplate.
// The e-mail body layout is fixed.
func NewTemplate(text string) (*Template, error) {
	if text == "" {
		text = DefaultTextTemplate
	}
	parsedText, err := template.New("alert-text").Parse(text)
	if err != nil {
		return nil, err
	}
	parsedHTML, err := htmltemplate.New("alert-email").Parse(emailBodyTemplate)
	if err != nil {
		return nil, err
	}
	return &Template{html: parsedHTML, text: parsedText}, nil
}

// Render applies both templates to an alert.
func (t *Template) Render(alert alarms.Alert) (Content, error) {
	if t == nil || t.html == nil || t.text == nil {
		return Content{}, errors.New("alert template: nil")
	}
	data := buildTemplateData(alert)

	var html bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		return Content{}, err
	}
	var text bytes.Buffer
	if err := t.text.Execute(&text, data); err != nil {
		return Content{}, err
	}
	return Content{
		Subject: "Alerta: " + data.Sensor,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func buildTemplateData(alert alarms.Alert) TemplateData {
	name := alert.SensorName
	if name == "" {
		name = alert.SensorID
	}
	at := alert.At
	if at.IsZero() {
		at = time.Now()
	}
	return TemplateData{
		EventType: alert.EventType,
		Sensor:    name,
		SensorID:  alert.SensorID,
		NodeID:    alert.NodeID,
		Value:     alarms.FormatNumber(alert.Value),
		Limit:     alarms.FormatNumber(alert.Limit),
		Unit:      alert.Unit,
		Message:   alert.Message,
		At:        at.UTC().Format(time.RFC3339),
	}
}
