package models

import "testing"

func TestCarryMergePreservesAndOverlays(t *testing.T) {
	carry := Carry{"s3_key": "1/doc.pdf", "file_id": "f1"}
	merged := carry.Merge(map[string]interface{}{"file_id": "f2", "extra": "x"})

	if merged["s3_key"] != "1/doc.pdf" {
		t.Fatalf("expected carry field preserved, got %v", merged["s3_key"])
	}
	if merged["file_id"] != "f2" {
		t.Fatalf("expected overlay to win, got %v", merged["file_id"])
	}
	if merged["extra"] != "x" {
		t.Fatalf("expected overlay field present, got %v", merged["extra"])
	}
	// original untouched
	if carry["file_id"] != "f1" {
		t.Fatalf("Merge must not mutate receiver, got %v", carry["file_id"])
	}
}

func TestCarryResolvedS3KeySubstitution(t *testing.T) {
	tests := []struct {
		name  string
		carry Carry
		want  string
	}{
		{"original only", Carry{"s3_key": "1/doc.pdf"}, "1/doc.pdf"},
		{"parsed available", Carry{"s3_key": "1/doc.pdf", "parsed_s3_key": "1/doc.parsed.json"}, "1/doc.parsed.json"},
		{"redacted preferred over parsed", Carry{
			"s3_key":          "1/doc.pdf",
			"parsed_s3_key":   "1/doc.parsed.json",
			"redacted_s3_key": "1/doc.redacted.json",
		}, "1/doc.redacted.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.carry.ResolvedS3Key(); got != tt.want {
				t.Errorf("ResolvedS3Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStepNameFanOut(t *testing.T) {
	if !StepEmbed.FanOut() || !StepIndex.FanOut() {
		t.Fatal("embed/index must fan out")
	}
	if StepParseDocument.FanOut() || StepRedact.FanOut() || StepChunk.FanOut() {
		t.Fatal("parse-document/redact/chunk must fan in")
	}
}

func TestStepOptionsDefaults(t *testing.T) {
	var opts StepOptions
	if opts.TimeoutSeconds() != 30*60 {
		t.Errorf("expected default timeout 1800s, got %d", opts.TimeoutSeconds())
	}
	if opts.RetryCap() != -1 {
		t.Errorf("expected unset retry cap sentinel -1, got %d", opts.RetryCap())
	}
	if opts.MaxChildFailures() != -1 {
		t.Errorf("expected zero-tolerance sentinel (-1) max_child_failures by default, got %d", opts.MaxChildFailures())
	}
	if opts.OnError() != OnErrorFail {
		t.Errorf("expected default on_error=fail, got %v", opts.OnError())
	}
}

func TestStepOptionsOverrides(t *testing.T) {
	opts := StepOptions{
		"timeout_seconds":    float64(60),
		"retry_cap":          float64(0),
		"max_child_failures": float64(2),
		"on_error":           "continue",
	}
	if opts.TimeoutSeconds() != 60 {
		t.Errorf("timeout override not applied: %d", opts.TimeoutSeconds())
	}
	if opts.RetryCap() != 0 {
		t.Errorf("retry cap override not applied: %d", opts.RetryCap())
	}
	if opts.MaxChildFailures() != 2 {
		t.Errorf("max_child_failures override not applied: %d", opts.MaxChildFailures())
	}
	if opts.OnError() != OnErrorContinue {
		t.Errorf("on_error override not applied: %v", opts.OnError())
	}
}
