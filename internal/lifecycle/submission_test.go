package lifecycle

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/assessment"
	"reviewflow/api/internal/store"
)

func proposalFor(projectID, phase uint64) assessment.ProposalPayload {
	return assessment.ProposalPayload{ProjectID: projectID, Phase: phase}
}

func answers(ids ...string) []store.QuestionResponse {
	out := make([]store.QuestionResponse, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.QuestionResponse{ID: id, Response: "answer to " + id})
	}
	return out
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	var domainErr *apperr.Error
	if !errors.As(err, &domainErr) || domainErr.Kind != apperr.KindInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	details, ok := domainErr.Details.([]string)
	if !ok {
		t.Fatalf("expected violation list, got %#v", domainErr.Details)
	}
	return details
}

func TestValidateSubmissionReportsCountMismatchOnce(t *testing.T) {
	step := voteGradeVote()[0].Steps[0]
	err := ValidateSubmission(step, SubmissionInput{
		Questions: answers("QUESTION_0_0_0", "QUESTION_0_0_1", "QUESTION_0_0_2"),
	})
	details := violations(t, err)
	if len(details) != 1 {
		t.Fatalf("expected exactly one violation, got %v", details)
	}
	if !strings.Contains(details[0], "expected 6, received 3") {
		t.Fatalf("unexpected violation %q", details[0])
	}
}

func TestValidateSubmissionAggregatesEveryViolation(t *testing.T) {
	step := voteGradeVote()[0].Steps[0]
	qs := answers("QUESTION_0_0_0", "QUESTION_0_0_0", "QUESTION_0_0_2", "QUESTION_0_0_3", "QUESTION_0_0_4", "QUESTION_9_9_9")
	qs[2].Response = strings.Repeat("x", 65)
	qs[3].Response = "   "

	err := ValidateSubmission(step, SubmissionInput{
		Questions: qs,
		Numerics:  []store.NumericValue{{ID: "NUMERIC_0_0_0", Value: math.NaN()}},
		Documents: []store.DocumentRef{{Type: store.DocProductDemo}, {Type: store.DocLogo}, {Type: store.DocLogo}},
	})
	details := violations(t, err)
	want := []string{
		`duplicate question id "QUESTION_0_0_0"`,
		"QUESTION_0_0_2 response is 65 bytes",
		"QUESTION_0_0_3 response is empty",
		`unknown question id "QUESTION_9_9_9"`,
		"NUMERIC_0_0_0 is not a finite number",
		`"ProductDemo" is not requested`,
		`duplicate document type "Logo"`,
	}
	if len(details) != len(want) {
		t.Fatalf("expected %d violations, got %d: %v", len(want), len(details), details)
	}
	for i, fragment := range want {
		if !strings.Contains(details[i], fragment) {
			t.Fatalf("violation %d: expected %q in %q", i, fragment, details[i])
		}
	}
}

func TestValidateSubmissionRejectsBlankResponses(t *testing.T) {
	step := voteGradeVote()[0].Steps[0]
	qs := answers("QUESTION_0_0_0", "QUESTION_0_0_1", "QUESTION_0_0_2", "QUESTION_0_0_3", "QUESTION_0_0_4", "QUESTION_0_0_5")
	for i := range qs {
		qs[i].Response = ""
	}
	details := violations(t, ValidateSubmission(step, SubmissionInput{Questions: qs}))
	if len(details) != 6 {
		t.Fatalf("expected one violation per blank response, got %v", details)
	}
	for _, d := range details {
		if !strings.HasSuffix(d, "response is empty") {
			t.Fatalf("unexpected violation %q", d)
		}
	}
}

func TestValidateSubmissionAcceptsPartialKinds(t *testing.T) {
	step := voteGradeVote()[0].Steps[0]
	err := ValidateSubmission(step, SubmissionInput{
		Checkboxes: []store.CheckboxValue{{ID: "CHECKBOX_0_0_0", Value: false}},
	})
	if err != nil {
		t.Fatalf("expected valid submission, got %v", err)
	}
}

func TestRecordSubmissionStoresAndStamps(t *testing.T) {
	h := newHarness(t, voteGradeVote())
	ctx := context.Background()
	project := h.createProject(t)
	h.clock.Advance(time.Hour)

	saved, err := h.engine.RecordSubmission(ctx, "owner", project.ID, 0, 0, SubmissionInput{
		Questions: answers("QUESTION_0_0_0", "QUESTION_0_0_1", "QUESTION_0_0_2", "QUESTION_0_0_3", "QUESTION_0_0_4", "QUESTION_0_0_5"),
		Documents: []store.DocumentRef{{Type: store.DocLogo, FileName: "logo.png"}},
	})
	if err != nil {
		t.Fatalf("record submission: %v", err)
	}
	if saved.UpdatedBy != "owner" || saved.UpdatedAt == nil || !saved.UpdatedAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("expected stamped submission, got %+v", saved)
	}

	stored, err := h.engine.GetStep(ctx, project.ID, 0, 0)
	if err != nil {
		t.Fatalf("get step: %v", err)
	}
	if stored.Questions[5].Response != "answer to QUESTION_0_0_5" {
		t.Fatalf("unexpected responses: %+v", stored.Questions)
	}
	if !stored.Checkboxes[0].Value || stored.Numerics[0].Value != 1.5 {
		t.Fatal("expected untouched kinds to keep their defaults")
	}
	if len(stored.Documents) != 2 || stored.Documents[1].FileName != "logo.png" {
		t.Fatalf("unexpected documents: %+v", stored.Documents)
	}
}

func TestRecordSubmissionInvalidLeavesStepUntouched(t *testing.T) {
	h := newHarness(t, voteGradeVote())
	ctx := context.Background()
	project := h.createProject(t)
	before, _ := h.engine.GetStep(ctx, project.ID, 0, 0)

	_, err := h.engine.RecordSubmission(ctx, "owner", project.ID, 0, 0, SubmissionInput{
		Questions: answers("QUESTION_0_0_0"),
	})
	violations(t, err)
	after, _ := h.engine.GetStep(ctx, project.ID, 0, 0)
	if after.UpdatedAt != nil || after.Questions[0].Response != before.Questions[0].Response {
		t.Fatalf("step changed after rejected submission: %+v", after)
	}
}

func TestRecordSubmissionPreconditions(t *testing.T) {
	h := newHarness(t, voteGradeVote())
	ctx := context.Background()
	project := h.createProject(t)

	if _, err := h.engine.RecordSubmission(ctx, "intruder", project.ID, 0, 0, SubmissionInput{}); !apperr.Is(err, apperr.KindPreconditionFailed) {
		t.Fatalf("expected non owner to be refused, got %v", err)
	}
	if _, err := h.engine.RecordSubmission(ctx, "owner", project.ID, 0, 4, SubmissionInput{}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected unknown step to be NOT_FOUND, got %v", err)
	}

	h.clock.Advance(14 * 24 * time.Hour)
	if _, err := h.engine.RecordSubmission(ctx, "owner", project.ID, 0, 0, SubmissionInput{}); !apperr.Is(err, apperr.KindPreconditionFailed) {
		t.Fatalf("expected submission at the deadline to be refused, got %v", err)
	}
}

func TestIssueUploadURLRecordsObjectKey(t *testing.T) {
	h := newHarness(t, voteGradeVote())
	ctx := context.Background()
	project := h.createProject(t)

	ticket, err := h.engine.IssueUploadURL(ctx, "owner", project.ID, 0, 0, store.DocPitchDeck)
	if err != nil {
		t.Fatalf("issue upload url: %v", err)
	}
	if ticket.ObjectKey != "projects/1/0/0/PitchDeck" || !strings.HasPrefix(ticket.URL, "https://uploads.test/") {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	step, _ := h.engine.GetStep(ctx, project.ID, 0, 0)
	if step.Documents[0].ObjectKey != ticket.ObjectKey {
		t.Fatalf("expected object key on step, got %+v", step.Documents)
	}

	if _, err := h.engine.IssueUploadURL(ctx, "owner", project.ID, 0, 0, store.DocProductDemo); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected unrequested document to be refused, got %v", err)
	}
	if len(h.uploads.calls) != 1 {
		t.Fatalf("expected a single presign call, got %d", len(h.uploads.calls))
	}
}

func TestIssueUploadURLWithoutStorage(t *testing.T) {
	h := newHarness(t, voteGradeVote())
	h.engine.presigner = nil
	project := h.createProject(t)
	_, err := h.engine.IssueUploadURL(context.Background(), "owner", project.ID, 0, 0, store.DocLogo)
	if !apperr.Is(err, apperr.KindDependency) {
		t.Fatalf("expected DEPENDENCY, got %v", err)
	}
}

func TestUpdateProjectRequiresOwner(t *testing.T) {
	h := newHarness(t, voteGradeVote())
	ctx := context.Background()
	project := h.createProject(t)

	if _, err := h.engine.UpdateProject(ctx, "intruder", project.ID, ProjectInput{Title: "Hijack"}); !apperr.Is(err, apperr.KindPreconditionFailed) {
		t.Fatalf("expected NOT_OWNER, got %v", err)
	}
	updated, err := h.engine.UpdateProject(ctx, "owner", project.ID, ProjectInput{Title: "Orbit v2", Moto: "to the moon"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Orbit v2" || updated.CurrentPhase != 0 || updated.Status != store.ProjectOpen {
		t.Fatalf("unexpected project: %+v", updated)
	}
	view, err := h.engine.GetProjectWithCurrentPhase(ctx, project.ID)
	if err != nil || view.CurrentPhase == nil || view.CurrentPhase.Ordinal != 0 {
		t.Fatalf("unexpected view %+v %v", view, err)
	}
}
