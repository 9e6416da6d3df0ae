// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

//go:embed prompts/blessing.txt
var blessingTemplate string

// template.Must panics on a malformed template at program start.
var blessingPromptTmpl = template.Must(template.New("blessing").Parse(blessingTemplate))

// BlessingData is injected into the blessing prompt. Empty optional
// fields are left out of the prompt.
type BlessingData struct {
	Name       string
	Relation   string
	Suggestion string
	Style      string
}

// RenderBlessingPrompt renders the blessing prompt for one guest.
func RenderBlessingPrompt(d BlessingData) string {
	d.Name = strings.TrimSpace(d.Name)
	d.Relation = strings.TrimSpace(d.Relation)
	d.Suggestion = strings.TrimSpace(d.Suggestion)
	d.Style = strings.TrimSpace(d.Style)

	var buf bytes.Buffer
	// The template only reads string fields, so Execute cannot fail.
	_ = blessingPromptTmpl.Execute(&buf, d)
	return strings.TrimSpace(buf.String())
}
