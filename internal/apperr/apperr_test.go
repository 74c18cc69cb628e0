package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestStepErrorPreservesUpstreamStatus(t *testing.T) {
	cause := Upstream(502, "bad gateway")
	err := StepError(StepUpload, fmt.Errorf("create deployment: %w", cause))

	if KindOf(err) != KindDeploymentStep {
		t.Fatalf("expected deployment_step kind, got %q", KindOf(err))
	}
	if StepOf(err) != StepUpload {
		t.Fatalf("expected upload step, got %q", StepOf(err))
	}
	if StatusOf(err) != 502 {
		t.Fatalf("expected status 502, got %d", StatusOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
}

func TestStepErrorKeepsConfigurationKind(t *testing.T) {
	err := StepError(StepEnsure, New(KindConfiguration, "hosting token missing"))
	if KindOf(err) != KindConfiguration {
		t.Fatalf("expected configuration kind, got %q", KindOf(err))
	}
	if StepOf(err) != StepEnsure {
		t.Fatalf("expected ensure step, got %q", StepOf(err))
	}
}

func TestNilHelpers(t *testing.T) {
	if StepError(StepBind, nil) != nil {
		t.Fatalf("StepError(nil) should be nil")
	}
	if Wrap(KindUpstream, nil, "x") != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors have no kind")
	}
}

func TestErrorMessage(t *testing.T) {
	err := StepError(StepRecord, errors.New("db down"))
	if got := err.Error(); got != "record step failed: db down" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Upstream(404, "model missing").Error(); got != "upstream (404): model missing" {
		t.Fatalf("unexpected message %q", got)
	}
}
