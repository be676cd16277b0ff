package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"reviewflow/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var dossierTemplate = template.Must(template.New("dossier.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/dossier.html"))

type TemplateData struct {
	Title       string
	Moto        string
	Description string
	Owner       string
	Status      string
	Team        []store.TeamMember
	Links       []string
	UpdatedAt   time.Time
	Phases      []TemplatePhase
}

type TemplatePhase struct {
	Name   string
	Status string
	Method string
	Steps  []TemplateStep
}

type TemplateStep struct {
	Name      string
	Answers   []TemplateAnswer
	Documents []TemplateAnswer
}

type TemplateAnswer struct {
	Label string
	Value string
}

// RenderDossierHTML renders the dossier template with provided data
func RenderDossierHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := dossierTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
