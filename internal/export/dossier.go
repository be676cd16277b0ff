package export

import (
	"context"
	"fmt"
	"strconv"

	"reviewflow/api/internal/store"
)

// Source reads the project state a dossier is built from.
type Source interface {
	GetProject(ctx context.Context, id uint64) (store.Project, error)
	ListPhases(ctx context.Context, projectID uint64) ([]store.PhaseInstance, error)
	ListSteps(ctx context.Context, projectID, phase uint64) ([]store.StepSubmission, error)
}

// Templates resolves the questionnaire a phase was opened with.
type Templates interface {
	PhaseTemplate(ctx context.Context, ordinal uint64) (store.PhaseTemplate, error)
}

type Service struct {
	source    Source
	templates Templates
	pandoc    pandoc
}

type Option func(*Service)

// WithPandoc overrides the pandoc binary and the DOCX reference document.
// Empty values keep the defaults.
func WithPandoc(bin, referenceDoc string) Option {
	return func(s *Service) {
		if bin != "" {
			s.pandoc.bin = bin
		}
		s.pandoc.referenceDoc = referenceDoc
	}
}

func NewService(source Source, templates Templates, opts ...Option) *Service {
	s := &Service{source: source, templates: templates, pandoc: defaultPandoc()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders the dossier of projectID in the requested format.
func (s *Service) Export(ctx context.Context, projectID uint64, format Format) (*Result, error) {
	data, err := s.build(ctx, projectID)
	if err != nil {
		return nil, err
	}
	html, err := RenderDossierHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, data.Title)
	case FormatDOCX:
		return s.pandoc.convert(ctx, html, data.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (s *Service) build(ctx context.Context, projectID uint64) (TemplateData, error) {
	project, err := s.source.GetProject(ctx, projectID)
	if err != nil {
		return TemplateData{}, err
	}
	phases, err := s.source.ListPhases(ctx, projectID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("list phases: %w", err)
	}

	data := TemplateData{
		Title:       project.Title,
		Moto:        project.Moto,
		Description: project.Description,
		Owner:       project.Owner,
		Status:      string(project.Status),
		Team:        project.TeamMembers,
		Links:       project.Links,
		UpdatedAt:   project.UpdatedAt,
	}
	for _, phase := range phases {
		tpl, err := s.templates.PhaseTemplate(ctx, phase.Ordinal)
		if err != nil {
			// Templates can be retired after a phase ran; fall back to ids.
			tpl = store.PhaseTemplate{Ordinal: phase.Ordinal, Name: "Phase " + strconv.FormatUint(phase.Ordinal, 10)}
		}
		steps, err := s.source.ListSteps(ctx, projectID, phase.Ordinal)
		if err != nil {
			return TemplateData{}, fmt.Errorf("list steps of phase %d: %w", phase.Ordinal, err)
		}
		section := TemplatePhase{
			Name:   tpl.Name,
			Status: string(phase.Status),
			Method: string(phase.Method),
		}
		for _, step := range steps {
			section.Steps = append(section.Steps, buildStep(tpl, step))
		}
		data.Phases = append(data.Phases, section)
	}
	return data, nil
}

func buildStep(tpl store.PhaseTemplate, step store.StepSubmission) TemplateStep {
	stepTpl, ok := tpl.Step(step.Step)
	if !ok {
		stepTpl = store.StepTemplate{Ordinal: step.Step, Name: "Step " + strconv.FormatUint(step.Step, 10)}
	}
	out := TemplateStep{Name: stepTpl.Name}

	prompts := make(map[string]string, len(stepTpl.Questions))
	for _, q := range stepTpl.Questions {
		prompts[q.ID] = q.Question
	}
	for _, q := range step.Questions {
		label := prompts[q.ID]
		if label == "" {
			label = q.ID
		}
		out.Answers = append(out.Answers, TemplateAnswer{Label: label, Value: q.Response})
	}

	labels := make(map[string]string, len(stepTpl.Checkboxes)+len(stepTpl.Numerics))
	for _, c := range stepTpl.Checkboxes {
		labels[c.ID] = c.Label
	}
	for _, n := range stepTpl.Numerics {
		labels[n.ID] = n.Label
	}
	label := func(id string) string {
		if l := labels[id]; l != "" {
			return l
		}
		return id
	}
	for _, c := range step.Checkboxes {
		value := "No"
		if c.Value {
			value = "Yes"
		}
		out.Answers = append(out.Answers, TemplateAnswer{Label: label(c.ID), Value: value})
	}
	for _, n := range step.Numerics {
		out.Answers = append(out.Answers, TemplateAnswer{Label: label(n.ID), Value: strconv.FormatFloat(n.Value, 'f', -1, 64)})
	}
	for _, d := range step.Documents {
		name := d.FileName
		if name == "" {
			name = "not uploaded"
		}
		out.Documents = append(out.Documents, TemplateAnswer{Label: string(d.Type), Value: name})
	}
	return out
}
