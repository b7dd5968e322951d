package stage

import (
	"errors"
	"fmt"
	"testing"

	"rythmo/internal/services"
)

func TestDefinitionScale(t *testing.T) {
	def := Definition{Name: "transcribe", Low: 5, High: 85, Failure: services.FailureFatal}
	cases := []struct {
		fraction float64
		want     int
	}{
		{-1, 5},
		{0, 5},
		{0.5, 45},
		{1, 85},
		{3, 85},
	}
	for _, tc := range cases {
		if got := def.Scale(tc.fraction); got != tc.want {
			t.Fatalf("Scale(%v) = %d, want %d", tc.fraction, got, tc.want)
		}
	}
	if got := def.Clamp(99); got != 85 {
		t.Fatalf("Clamp(99) = %d, want 85", got)
	}
	if got := def.Clamp(0); got != 5 {
		t.Fatalf("Clamp(0) = %d, want 5", got)
	}
}

func TestPlanValidate(t *testing.T) {
	valid := Plan{
		{Name: "validate", Low: 0, High: 10, Failure: services.FailureFatal},
		{Name: "detect", Low: 10, High: 60, Failure: services.FailureFatal},
		{Name: "persist", Low: 60, High: 100, Failure: services.FailureRetryable},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid plan, got %v", err)
	}

	invalid := map[string]Plan{
		"empty":    {},
		"overlap":  {{Name: "a", Low: 0, High: 50, Failure: services.FailureFatal}, {Name: "b", Low: 40, High: 100, Failure: services.FailureFatal}},
		"inverted": {{Name: "a", Low: 50, High: 10, Failure: services.FailureFatal}},
		"too high": {{Name: "a", Low: 0, High: 120, Failure: services.FailureFatal}},
		"no mode":  {{Name: "a", Low: 0, High: 100}},
		"no name":  {{Low: 0, High: 100, Failure: services.FailureFatal}},
	}
	for name, plan := range invalid {
		if err := plan.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDefinitionWrapKeepsClassification(t *testing.T) {
	def := Definition{Name: "detect", Low: 10, High: 60, Failure: services.FailureFatal}
	cause := fmt.Errorf("ffmpeg failed: %w", services.ErrNonZeroExit)

	err := def.Wrap(nil, "ffmpeg", "", cause)
	if !errors.Is(err, services.ErrNonZeroExit) {
		t.Fatalf("expected non-zero exit marker, got %v", err)
	}
	if services.Classify(err) != services.FailureFatal {
		t.Fatalf("expected fatal classification")
	}
	if err.Error() != "detect: ffmpeg: ffmpeg failed: subprocess exited with error" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	tagged := def.Wrap(services.ErrMalformedOutput, "parse", "bad json", nil)
	if !errors.Is(tagged, services.ErrMalformedOutput) {
		t.Fatalf("expected malformed output marker, got %v", tagged)
	}
}
