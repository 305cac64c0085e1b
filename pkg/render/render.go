package render

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine renders the WhatsApp message templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// New initialises an Engine by parsing all embedded templates.
func New() (*Engine, error) {
	t, err := template.New("render").Funcs(template.FuncMap{}).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// LinkMessage holds the fields available to link message templates.
type LinkMessage struct {
	URL     string
	Expires string
}

// RenderLinkMessage renders the message text that accompanies a storefront
// link of the given kind. Kinds without a dedicated template fall back to
// link.tmpl.
func (e *Engine) RenderLinkMessage(kind string, data LinkMessage) (string, error) {
	if e == nil || e.templates == nil {
		return "", fmt.Errorf("nil engine")
	}

	name := kind + ".tmpl"
	if e.templates.Lookup(name) == nil {
		name = "link.tmpl"
	}

	buf := bytes.NewBuffer(nil)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
