// Package render produces the HTML and plain-text bodies for outgoing email
// from embedded templates. Every logical template ships as a pair: name.html
// for rich clients and name.txt as the multipart/alternative fallback.
package render

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"

	"event-mailer/internal/common/errors"
)

//go:embed templates/*.html templates/*.txt
var templatesFS embed.FS

// Renderer holds the parsed template sets. Safe for concurrent use.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func New() (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, errors.NewTemplateRenderFailedError("*", err)
	}
	text, err := texttemplate.ParseFS(templatesFS, "templates/*.txt")
	if err != nil {
		return nil, errors.NewTemplateRenderFailedError("*", err)
	}
	return &Renderer{html: html, text: text}, nil
}

// Has reports whether both variants of a logical template exist.
func (r *Renderer) Has(name string) bool {
	return r.html.Lookup(name+".html") != nil && r.text.Lookup(name+".txt") != nil
}

// Render executes both variants of the named template against ctx and
// returns the HTML and text bodies.
func (r *Renderer) Render(name string, ctx map[string]interface{}) (string, string, error) {
	htmlTmpl := r.html.Lookup(name + ".html")
	textTmpl := r.text.Lookup(name + ".txt")
	if htmlTmpl == nil || textTmpl == nil {
		return "", "", errors.NewTemplateNotFoundError(name)
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, ctx); err != nil {
		return "", "", errors.NewTemplateRenderFailedError(name, err)
	}

	var textBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, ctx); err != nil {
		return "", "", errors.NewTemplateRenderFailedError(name, err)
	}

	return htmlBuf.String(), textBuf.String(), nil
}
