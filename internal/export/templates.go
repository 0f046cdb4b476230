package export

import (
	"bytes"
	"html/template"
)

// TemplateData feeds the document export template.
type TemplateData struct {
	Title    string
	DocType  string
	Theory   string // display name of the theory, model documents only
	ModelRef string // id of the underlying model, diagram and analysis documents
	Sections []Section
}

// Section is one run of notebook cells: either prose or a block of
// formal declarations. Exactly one of Prose and Decls is set.
type Section struct {
	Prose template.HTML
	Decls []Decl
}

// Decl is one formal declaration rendered as a table row.
type Decl struct {
	Label  string // Object, Morphism, Analysis
	Name   string
	Type   string // display name of the ob/mor type or analysis kind
	Detail string // dom and cod for morphisms, over for diagram cells
}

var documentTemplate = template.Must(template.New("document").Parse(documentTemplateText))

// RenderDocumentHTML renders the export template.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.5; max-width: 760px; margin: 2rem auto; color: #1a1a1a; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.4rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table.decls { border-collapse: collapse; width: 100%; margin: 0.75rem 0; }
    table.decls td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; }
    table.decls td.label { color: #666; font-size: 0.85em; width: 6rem; }
    code { background: #f4f4f4; padding: 0.1em 0.3em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.DocType}}{{if .Theory}} &middot; {{.Theory}}{{end}}{{if .ModelRef}} &middot; model {{.ModelRef}}{{end}}</div>
  {{range .Sections}}{{if .Decls}}<table class="decls">
  {{range .Decls}}<tr><td class="label">{{.Label}}</td><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Detail}}</td></tr>
  {{end}}</table>
  {{else}}{{.Prose}}{{end}}{{end}}
</body>
</html>`
