package export

import (
	"fmt"
	"html/template"

	"catbook/api/internal/document"
	"catbook/api/internal/model"
	"catbook/api/internal/notebook"
	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

// BuildTemplateData converts a decoded document into renderable form.
// doc must be one of the pointer types returned by document.Decode.
func BuildTemplateData(doc any, theories *theory.Registry) (TemplateData, error) {
	switch d := doc.(type) {
	case *document.ModelDocument:
		return buildModelData(d, theories), nil
	case *document.DiagramDocument:
		return buildDiagramData(d), nil
	case *document.AnalysisDocument:
		return buildAnalysisData(d), nil
	default:
		return TemplateData{}, fmt.Errorf("cannot render document of type %T", doc)
	}
}

func buildModelData(d *document.ModelDocument, theories *theory.Registry) TemplateData {
	data := TemplateData{Title: orUntitled(d.Name), DocType: "Model"}

	var th *theory.Theory
	if theories != nil {
		if t, err := theories.Get(d.TheoryID); err == nil {
			th = t
			data.Theory = t.Name
		}
	}
	if data.Theory == "" {
		data.Theory = d.TheoryID
	}

	index := model.BuildIndex(d.Judgments())

	var sections []Section
	for _, cell := range d.Notebook.Cells {
		switch cell.Kind {
		case notebook.KindRichText:
			appendProse(&sections, cell.Text)
		case notebook.KindFormal:
			if cell.Content.Judgment == nil {
				continue
			}
			appendDecl(&sections, modelDecl(cell.Content.Judgment, th, index))
		}
	}
	data.Sections = sections
	return data
}

func modelDecl(j model.Judgment, th *theory.Theory, index *model.ObjectIndex) Decl {
	switch v := j.(type) {
	case model.ObjectDecl:
		return Decl{
			Label: "Object",
			Name:  orUnnamed(v.Name),
			Type:  typeDisplay(th, v.ObType, true),
		}
	case model.MorphismDecl:
		return Decl{
			Label:  "Morphism",
			Name:   orUnnamed(v.Name),
			Type:   typeDisplay(th, v.MorType, false),
			Detail: endpoints(index, v.Dom, v.Cod),
		}
	default:
		return Decl{Label: j.Label(), Name: "(unknown)"}
	}
}

func buildDiagramData(d *document.DiagramDocument) TemplateData {
	data := TemplateData{
		Title:    orUntitled(d.Name),
		DocType:  "Diagram",
		ModelRef: d.ModelRef.RefID.String(),
	}

	// Names of the diagram's own objects, for morphism endpoints.
	names := make(map[uuid.UUID]string)
	for _, j := range d.Judgments() {
		if obj, ok := j.(document.DiagramObjectDecl); ok {
			names[obj.ID] = orUnnamed(obj.Name)
		}
	}
	lookup := func(id uuid.UUID) (string, bool) {
		name, ok := names[id]
		return name, ok
	}

	var sections []Section
	for _, cell := range d.Notebook.Cells {
		switch cell.Kind {
		case notebook.KindRichText:
			appendProse(&sections, cell.Text)
		case notebook.KindFormal:
			j := cell.Content.DiagramJudgment
			if j == nil {
				continue
			}
			switch v := j.(type) {
			case document.DiagramObjectDecl:
				appendDecl(&sections, Decl{
					Label:  "Object",
					Name:   orUnnamed(v.Name),
					Type:   string(v.ObType),
					Detail: overDetail(v.Over),
				})
			case document.DiagramMorphismDecl:
				appendDecl(&sections, Decl{
					Label:  "Morphism",
					Name:   orUnnamed(v.Name),
					Type:   string(v.MorType),
					Detail: endpointsBy(lookup, v.Dom, v.Cod),
				})
			}
		}
	}
	data.Sections = sections
	return data
}

func buildAnalysisData(d *document.AnalysisDocument) TemplateData {
	data := TemplateData{
		Title:    orUntitled(d.Name),
		DocType:  "Analysis",
		ModelRef: d.ModelRef.RefID.String(),
	}

	var sections []Section
	for _, cell := range d.Notebook.Cells {
		switch cell.Kind {
		case notebook.KindRichText:
			appendProse(&sections, cell.Text)
		case notebook.KindFormal:
			appendDecl(&sections, Decl{Label: "Analysis", Name: cell.Content.Analysis})
		}
	}
	data.Sections = sections
	return data
}

// appendDecl extends the trailing declaration section, or opens a new
// one after prose.
func appendDecl(sections *[]Section, d Decl) {
	if n := len(*sections); n > 0 && (*sections)[n-1].Decls != nil {
		(*sections)[n-1].Decls = append((*sections)[n-1].Decls, d)
		return
	}
	*sections = append(*sections, Section{Decls: []Decl{d}})
}

func appendProse(sections *[]Section, text string) {
	rendered := RichTextToHTML(text)
	if rendered == "" {
		return
	}
	*sections = append(*sections, Section{Prose: template.HTML(rendered)})
}

func typeDisplay(th *theory.Theory, ref theory.TypeRef, isObject bool) string {
	if th != nil {
		if isObject {
			if meta, ok := th.ObTypeMeta(ref); ok && meta.Display != "" {
				return meta.Display
			}
		} else {
			if meta, ok := th.MorTypeMeta(ref); ok && meta.Display != "" {
				return meta.Display
			}
		}
	}
	return string(ref)
}

func endpoints(index *model.ObjectIndex, dom, cod *uuid.UUID) string {
	return endpointsBy(index.Get, dom, cod)
}

func endpointsBy(lookup func(uuid.UUID) (string, bool), dom, cod *uuid.UUID) string {
	return endpointName(lookup, dom) + " to " + endpointName(lookup, cod)
}

func endpointName(lookup func(uuid.UUID) (string, bool), id *uuid.UUID) string {
	if id == nil {
		return "(unset)"
	}
	if name, ok := lookup(*id); ok {
		return name
	}
	return "(missing)"
}

func overDetail(over *uuid.UUID) string {
	if over == nil {
		return "over (unset)"
	}
	return "over " + over.String()
}

func orUntitled(name string) string {
	if name == "" {
		return "Untitled"
	}
	return name
}

func orUnnamed(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
