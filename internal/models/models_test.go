package models

import (
	"errors"
	"testing"
	"time"
)

func validStep(id int) Step {
	return Step{
		ID:       id,
		Field:    "field",
		Question: "question?",
		Validation: ValidationSpec{
			Type: ValidationGeneric,
		},
	}
}

func TestStepValidate(t *testing.T) {
	step := validStep(1)
	if err := step.Validate(); err != nil {
		t.Fatalf("valid step rejected: %v", err)
	}

	missingField := validStep(1)
	missingField.Field = ""
	if err := missingField.Validate(); !errors.Is(err, ErrEmptyStepField) {
		t.Errorf("error = %v, want ErrEmptyStepField", err)
	}

	missingQuestion := validStep(1)
	missingQuestion.Question = ""
	if err := missingQuestion.Validate(); !errors.Is(err, ErrEmptyStepQuestion) {
		t.Errorf("error = %v, want ErrEmptyStepQuestion", err)
	}

	badType := validStep(1)
	badType.Validation.Type = "unknown"
	if err := badType.Validate(); !errors.Is(err, ErrInvalidValidationType) {
		t.Errorf("error = %v, want ErrInvalidValidationType", err)
	}
}

func TestFlowDefinitionValidate(t *testing.T) {
	empty := FlowDefinition{}
	if err := empty.Validate(); !errors.Is(err, ErrEmptyFlow) {
		t.Errorf("error = %v, want ErrEmptyFlow", err)
	}

	good := FlowDefinition{Steps: []Step{validStep(1), validStep(2)}}
	if err := good.Validate(); err != nil {
		t.Errorf("valid flow rejected: %v", err)
	}

	gap := FlowDefinition{Steps: []Step{validStep(1), validStep(3)}}
	if err := gap.Validate(); !errors.Is(err, ErrNonContiguousStepIDs) {
		t.Errorf("error = %v, want ErrNonContiguousStepIDs", err)
	}

	startsAtTwo := FlowDefinition{Steps: []Step{validStep(2)}}
	if err := startsAtTwo.Validate(); !errors.Is(err, ErrNonContiguousStepIDs) {
		t.Errorf("error = %v, want ErrNonContiguousStepIDs", err)
	}
}

func TestFlowDefinitionStepByID(t *testing.T) {
	def := FlowDefinition{Steps: []Step{validStep(1), validStep(2)}}

	if step := def.StepByID(2); step == nil || step.ID != 2 {
		t.Errorf("StepByID(2) = %+v", step)
	}
	if step := def.StepByID(0); step != nil {
		t.Errorf("StepByID(0) = %+v, want nil", step)
	}
	if step := def.StepByID(3); step != nil {
		t.Errorf("StepByID(3) = %+v, want nil", step)
	}
}

func TestNewSession(t *testing.T) {
	sess := NewSession("5511987654321", "whatsapp")
	if sess.SessionID != "5511987654321" || sess.Platform != "whatsapp" {
		t.Errorf("identity fields: %+v", sess)
	}
	if sess.LeadData == nil || sess.ValidationAttempts == nil {
		t.Error("expected initialized maps")
	}
	if sess.CreatedAt.IsZero() || sess.LastUpdated.IsZero() {
		t.Error("expected timestamps set")
	}
	if sess.FlowInitialized || sess.FlowCompleted {
		t.Error("fresh session must be uninitialized")
	}
}

func TestSessionRepair(t *testing.T) {
	sess := Session{}
	sess.Repair("5511987654321")
	if sess.SessionID != "5511987654321" {
		t.Errorf("session id = %q", sess.SessionID)
	}
	if sess.LeadData == nil || sess.ValidationAttempts == nil {
		t.Error("Repair must initialize nil maps")
	}
	if sess.CreatedAt.IsZero() {
		t.Error("Repair must backfill CreatedAt")
	}

	// Repair never overwrites populated state.
	populated := NewSession("original", "web")
	populated.LeadData["full_name"] = "João"
	populated.Repair("other")
	if populated.SessionID != "original" || populated.LeadData["full_name"] != "João" {
		t.Errorf("Repair overwrote state: %+v", populated)
	}
}

func TestSessionTouch(t *testing.T) {
	sess := NewSession("id", "whatsapp")
	before := sess.LastUpdated
	time.Sleep(time.Millisecond)
	sess.Touch()
	if !sess.LastUpdated.After(before) {
		t.Error("Touch did not advance LastUpdated")
	}
}

func TestIsValidValidationType(t *testing.T) {
	valid := []ValidationType{
		ValidationName, ValidationContactCombined, ValidationArea,
		ValidationCaseDescription, ValidationConfirmation, ValidationPhone,
		ValidationGeneric,
	}
	for _, vt := range valid {
		if !IsValidValidationType(vt) {
			t.Errorf("expected %s to be valid", vt)
		}
	}
	if IsValidValidationType("bogus") {
		t.Error("expected bogus type to be invalid")
	}
}
