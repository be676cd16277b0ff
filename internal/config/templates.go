package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"reviewflow/api/internal/store"
)

//go:embed phases.yaml
var defaultPhasesYAML []byte

type templateFile struct {
	Phases []store.PhaseTemplate `yaml:"phases"`
}

// DefaultTemplates returns the built-in three phase catalogue.
func DefaultTemplates() ([]store.PhaseTemplate, error) {
	return ParseTemplates(defaultPhasesYAML)
}

// LoadTemplates reads a phase catalogue from path, or the built-in one when
// path is empty.
func LoadTemplates(path string) ([]store.PhaseTemplate, error) {
	if path == "" {
		return DefaultTemplates()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes a catalogue, numbers phases and steps by position
// and fills missing field ids.
func ParseTemplates(data []byte) ([]store.PhaseTemplate, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if len(file.Phases) == 0 {
		return nil, fmt.Errorf("parse templates: no phases defined")
	}

	for p := range file.Phases {
		phase := &file.Phases[p]
		phase.Ordinal = uint64(p)
		switch phase.Method {
		case "":
			phase.Method = store.AssessNone
		case store.AssessNone, store.AssessVote, store.AssessGrade:
		default:
			return nil, fmt.Errorf("phase %d: unknown assessment method %q", p, phase.Method)
		}

		for s := range phase.Steps {
			step := &phase.Steps[s]
			step.Ordinal = uint64(s)
			if err := normalizeStep(p, s, step); err != nil {
				return nil, err
			}
		}
	}
	return file.Phases, nil
}

func normalizeStep(phase, step int, s *store.StepTemplate) error {
	seen := map[string]bool{}
	claim := func(id string) error {
		if seen[id] {
			return fmt.Errorf("phase %d step %d: duplicate field id %q", phase, step, id)
		}
		seen[id] = true
		return nil
	}

	for i := range s.Questions {
		q := &s.Questions[i]
		if q.ID == "" {
			q.ID = fmt.Sprintf("QUESTION_%d_%d_%d", phase, step, i)
		}
		if q.MaxBytes <= 0 {
			return fmt.Errorf("phase %d step %d: question %q needs a positive max_bytes", phase, step, q.ID)
		}
		if err := claim(q.ID); err != nil {
			return err
		}
	}
	for i := range s.Checkboxes {
		c := &s.Checkboxes[i]
		if c.ID == "" {
			c.ID = fmt.Sprintf("CHECKBOX_%d_%d_%d", phase, step, i)
		}
		if err := claim(c.ID); err != nil {
			return err
		}
	}
	for i := range s.Numerics {
		n := &s.Numerics[i]
		if n.ID == "" {
			n.ID = fmt.Sprintf("NUMERIC_%d_%d_%d", phase, step, i)
		}
		if err := claim(n.ID); err != nil {
			return err
		}
	}
	for _, doc := range s.Documents {
		if !doc.Valid() {
			return fmt.Errorf("phase %d step %d: unknown document type %q", phase, step, doc)
		}
	}
	return nil
}
