package domain

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	allowed := [][2]Stage{
		{StagePending, StageDownloading},
		{StageDownloading, StageDecrypting},
		{StageDecrypting, StageExtracting},
		{StageExtracting, StageAnalyzing},
		{StageAnalyzing, StageAwaitingApproval},
		{StageAnalyzing, StageCompleted},
		{StageAwaitingApproval, StageCompleted},
		{StageAwaitingApproval, StageFailed},
		{StageExtracting, StageFailed},
		{StageCompleted, StageSuperseded},
		{StageCompleted, StageExpired},
	}
	for _, tr := range allowed {
		if err := ValidateTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", tr[0], tr[1], err)
		}
	}

	rejected := [][2]Stage{
		{StagePending, StageAnalyzing},
		{StageCompleted, StagePending},
		{StageCompleted, StageFailed},
		{StageFailed, StageDownloading},
		{StageSuperseded, StageCompleted},
		{StageExpired, StageCompleted},
		{StageDecrypting, StageDownloading},
	}
	for _, tr := range rejected {
		if err := ValidateTransition(tr[0], tr[1]); !IsKind(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s should be rejected, got %v", tr[0], tr[1], err)
		}
	}
}

func TestStageClassification(t *testing.T) {
	for _, s := range []Stage{StagePending, StageDownloading, StageDecrypting, StageExtracting, StageAnalyzing} {
		if !s.IsRunnable() {
			t.Fatalf("%s should be runnable", s)
		}
	}
	for _, s := range []Stage{StageAwaitingApproval, StageCompleted, StageFailed, StageSuperseded, StageExpired} {
		if s.IsRunnable() {
			t.Fatalf("%s should not be runnable", s)
		}
	}
	if !StageExpired.IsRemoved() || StageCompleted.IsRemoved() {
		t.Fatalf("unexpected IsRemoved classification")
	}
	if StageSuperseded.Order() != StageExpired.Order() || Stage("bogus").Order() != -1 {
		t.Fatalf("unexpected stage order")
	}
	if next, ok := StageExtracting.Next(); !ok || next != StageAnalyzing {
		t.Fatalf("extracting should be followed by analyzing")
	}
	if _, ok := StageAnalyzing.Next(); ok {
		t.Fatalf("analyzing branches and has no single next stage")
	}
	if _, err := ParseStage("archived"); !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown stage")
	}
}

func TestDecisionOutcome(t *testing.T) {
	cases := []struct {
		name       string
		suitable   bool
		confidence int
		stage      Stage
		resolution Resolution
	}{
		{"auto approve", true, 80, StageCompleted, ResolutionPublished},
		{"manual review", true, 79, StageAwaitingApproval, ResolutionNone},
		{"at min confidence", true, 40, StageAwaitingApproval, ResolutionNone},
		{"below min confidence", true, 39, StageCompleted, ResolutionRejected},
		{"unsuitable", false, 99, StageCompleted, ResolutionRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decision{
				Verdict:       Verdict{SuitableForKB: tc.suitable, ConfidenceScore: tc.confidence},
				MinConfidence: 40,
				AutoApprove:   80,
			}
			stage, resolution := d.Outcome()
			if stage != tc.stage || resolution != tc.resolution {
				t.Fatalf("Outcome() = %s/%q, want %s/%q", stage, resolution, tc.stage, tc.resolution)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" headquarters_issue ")
	if err != nil || c != CategoryHeadquartersIssue {
		t.Fatalf("ParseCategory() = %q, %v", c, err)
	}
	if _, err := ParseCategory("总行发文"); !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(Categories()) != 8 {
		t.Fatalf("expected 8 categories")
	}
}

func TestDocumentNaming(t *testing.T) {
	d := &Document{Filename: "关于修订《信贷管理办法》的通知.DOCX"}
	if d.Title() != "关于修订《信贷管理办法》的通知" {
		t.Fatalf("unexpected title %q", d.Title())
	}
	if d.ResolvedFileType() != "docx" {
		t.Fatalf("expected extension fallback, got %q", d.ResolvedFileType())
	}
	d.FileType = ".PDF"
	if d.ResolvedFileType() != "pdf" {
		t.Fatalf("declared type should win, got %q", d.ResolvedFileType())
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	if ErrorKind(WrapError(ErrDecryptionFailed, "decrypt", base)) != "decryption_failed" {
		t.Fatalf("unexpected kind")
	}
	if !IsFatal(WrapError(ErrUnsupportedFormat, "extract", base)) || IsFatal(WrapError(ErrTemporary, "extract", base)) {
		t.Fatalf("unexpected fatal classification")
	}
	wrapped := WrapError(ErrAnalysisFailed, "decide", WrapError(ErrValidationFailed, "validate", base))
	if !IsKind(wrapped, ErrAnalysisFailed) || !IsKind(wrapped, ErrValidationFailed) || !errors.Is(wrapped, base) {
		t.Fatalf("nested kinds must all be visible")
	}
	if WrapError(ErrTemporary, "noop", nil) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
	if ErrorKind(base) != "internal" {
		t.Fatalf("unknown errors are internal")
	}
}
