package store

import "time"

type ProjectStatus string

const (
	ProjectOpen         ProjectStatus = "Open"
	ProjectFunded       ProjectStatus = "Funded"
	ProjectNotFunded    ProjectStatus = "NotFunded"
	ProjectNotSubmitted ProjectStatus = "NotSubmitted"
)

type PhaseStatus string

const (
	PhaseOpen         PhaseStatus = "Open"
	PhaseNotSubmitted PhaseStatus = "NotSubmitted"
	PhaseSubmitted    PhaseStatus = "Submitted"
	PhaseApproved     PhaseStatus = "Approved"
	PhaseNotApproved  PhaseStatus = "NotApproved"
)

type AssessmentMethod string

const (
	AssessNone  AssessmentMethod = "None"
	AssessVote  AssessmentMethod = "Vote"
	AssessGrade AssessmentMethod = "Grade"
)

type DocumentType string

const (
	DocPitchDeck       DocumentType = "PitchDeck"
	DocLogo            DocumentType = "Logo"
	DocCoverPhoto      DocumentType = "CoverPhoto"
	DocFinancialModels DocumentType = "FinancialModels"
	DocProductDemo     DocumentType = "ProductDemo"
	DocExpenditurePlan DocumentType = "ExpenditurePlan"
)

func (d DocumentType) Valid() bool {
	switch d {
	case DocPitchDeck, DocLogo, DocCoverPhoto, DocFinancialModels, DocProductDemo, DocExpenditurePlan:
		return true
	}
	return false
}

type TeamMember struct {
	Name  string   `json:"name" yaml:"name"`
	Role  string   `json:"role" yaml:"role"`
	Links []string `json:"links,omitempty" yaml:"links,omitempty"`
}

type Project struct {
	ID           uint64        `json:"id"`
	Owner        string        `json:"owner"`
	Title        string        `json:"title"`
	Moto         string        `json:"moto"`
	Description  string        `json:"description"`
	TeamMembers  []TeamMember  `json:"team_members"`
	Links        []string      `json:"links"`
	Categories   []uint64      `json:"categories"`
	CurrentPhase uint64        `json:"current_phase"`
	Status       ProjectStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedBy    string        `json:"updated_by"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type QuestionTemplate struct {
	ID       string `json:"id" yaml:"id"`
	Question string `json:"question" yaml:"question"`
	MaxBytes int    `json:"max_bytes" yaml:"max_bytes"`
}

type CheckboxTemplate struct {
	ID      string `json:"id" yaml:"id"`
	Label   string `json:"label" yaml:"label"`
	Default bool   `json:"default" yaml:"default"`
}

type NumericTemplate struct {
	ID      string  `json:"id" yaml:"id"`
	Label   string  `json:"label" yaml:"label"`
	Default float64 `json:"default" yaml:"default"`
}

type StepTemplate struct {
	Ordinal     uint64             `json:"ordinal" yaml:"ordinal"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	Questions   []QuestionTemplate `json:"questions" yaml:"questions"`
	Checkboxes  []CheckboxTemplate `json:"checkboxes" yaml:"checkboxes"`
	Numerics    []NumericTemplate  `json:"numerics" yaml:"numerics"`
	Documents   []DocumentType     `json:"documents" yaml:"documents"`
}

// RequiresDocument reports whether the step asks for docType.
func (s StepTemplate) RequiresDocument(docType DocumentType) bool {
	for _, d := range s.Documents {
		if d == docType {
			return true
		}
	}
	return false
}

type PhaseTemplate struct {
	Ordinal     uint64           `json:"ordinal" yaml:"ordinal"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Method      AssessmentMethod `json:"method" yaml:"method"`
	Steps       []StepTemplate   `json:"steps" yaml:"steps"`
}

// Step returns the template for ordinal, if any.
func (p PhaseTemplate) Step(ordinal uint64) (StepTemplate, bool) {
	for _, s := range p.Steps {
		if s.Ordinal == ordinal {
			return s, true
		}
	}
	return StepTemplate{}, false
}

type PhaseInstance struct {
	ProjectID         uint64           `json:"project_id"`
	Ordinal           uint64           `json:"ordinal"`
	Status            PhaseStatus      `json:"status"`
	Method            AssessmentMethod `json:"method"`
	StartOpenAt       time.Time        `json:"start_open_at"`
	EndOpenAt         time.Time        `json:"end_open_at"`
	SubmittedAt       *time.Time       `json:"submitted_at,omitempty"`
	StartAssessmentAt time.Time        `json:"start_assessment_at"`
	EndAssessmentAt   time.Time        `json:"end_assessment_at"`
}

type QuestionResponse struct {
	ID       string `json:"id"`
	Response string `json:"response"`
}

type CheckboxValue struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

type NumericValue struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

type DocumentRef struct {
	Type      DocumentType `json:"type"`
	FileName  string       `json:"file_name,omitempty"`
	ObjectKey string       `json:"object_key,omitempty"`
}

type StepSubmission struct {
	ProjectID  uint64             `json:"project_id"`
	Phase      uint64             `json:"phase"`
	Step       uint64             `json:"step"`
	Questions  []QuestionResponse `json:"questions"`
	Checkboxes []CheckboxValue    `json:"checkboxes"`
	Numerics   []NumericValue     `json:"numerics"`
	Documents  []DocumentRef      `json:"documents"`
	UpdatedBy  string             `json:"updated_by,omitempty"`
	UpdatedAt  *time.Time         `json:"updated_at,omitempty"`
}

type GradeRecord struct {
	Grader    string    `json:"grader"`
	ProjectID uint64    `json:"project_id"`
	Phase     uint64    `json:"phase"`
	Step      uint64    `json:"step"`
	Grade     uint32    `json:"grade"`
	GradedAt  time.Time `json:"graded_at"`
}

type StepAverage struct {
	Step    uint64  `json:"step"`
	Average float64 `json:"average"`
	Graders int     `json:"graders"`
}

type GradeResult struct {
	ProjectID  uint64        `json:"project_id"`
	Phase      uint64        `json:"phase"`
	Steps      []StepAverage `json:"steps"`
	Average    float64       `json:"average"`
	ComputedAt time.Time     `json:"computed_at"`
}

type ProposalLink struct {
	ProjectID   uint64    `json:"project_id"`
	Phase       uint64    `json:"phase"`
	ProposalID  uint64    `json:"proposal_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type VoteResult struct {
	ProjectID  uint64    `json:"project_id"`
	Phase      uint64    `json:"phase"`
	ProposalID uint64    `json:"proposal_id"`
	Yes        uint64    `json:"yes"`
	No         uint64    `json:"no"`
	Total      uint64    `json:"total"`
	Approved   bool      `json:"approved"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type Category struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
