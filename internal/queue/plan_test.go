package queue

import (
	"strings"
	"testing"
	"time"
)

func TestPlanEncodeDecodeRoundTrip(t *testing.T) {
	plan := Plan{
		Name:             "cats vs dogs",
		TaskType:         "image_classification",
		Framework:        "pytorch",
		DatasetSource:    "kaggle",
		SearchKeywords:   []string{"cats", "dogs"},
		PreferredModel:   "resnet18",
		TargetMetric:     "accuracy",
		TargetValue:      0.9,
		MaxDatasetSizeGB: 50,
		Extra:            map[string]string{"notes": "binary classes"},
	}
	encoded, err := plan.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodePlan(encoded)
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	if decoded.Name != plan.Name || decoded.PreferredModel != "resnet18" {
		t.Fatalf("unexpected decoded plan: %#v", decoded)
	}
	if len(decoded.SearchKeywords) != 2 || decoded.SearchKeywords[0] != "cats" {
		t.Fatalf("keywords not preserved: %#v", decoded.SearchKeywords)
	}
	if decoded.TargetValue != 0.9 {
		t.Fatalf("expected target 0.9, got %v", decoded.TargetValue)
	}
	if decoded.Extra["notes"] != "binary classes" {
		t.Fatalf("extra map not preserved: %#v", decoded.Extra)
	}
}

func TestDecodePlanRejectsEmptyPayload(t *testing.T) {
	if _, err := DecodePlan("   "); err == nil {
		t.Fatal("expected error for empty plan payload")
	}
	if _, err := DecodePlan("{not json"); err == nil {
		t.Fatal("expected error for malformed plan payload")
	}
}

func TestRecordPlanAccessors(t *testing.T) {
	record := &Record{}
	if _, err := record.Plan(); err == nil {
		t.Fatal("expected error when record has no plan")
	}
	if err := record.SetPlan(Plan{Name: "flowers", SearchKeywords: []string{"flowers"}}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	plan, err := record.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Name != "flowers" {
		t.Fatalf("expected plan name flowers, got %q", plan.Name)
	}
}

func TestKeywordQueryJoinsAndTrims(t *testing.T) {
	plan := Plan{SearchKeywords: []string{" cats ", "", "dogs"}}
	if got := plan.KeywordQuery(); got != "cats dogs" {
		t.Fatalf("expected %q, got %q", "cats dogs", got)
	}
}

func TestParsePhaseNormalizes(t *testing.T) {
	phase, ok := ParsePhase("  Pending_Training ")
	if !ok || phase != PhasePendingTraining {
		t.Fatalf("expected pending_training, got %q ok=%v", phase, ok)
	}
	if _, ok := ParsePhase("deploying"); ok {
		t.Fatal("expected unknown phase to be rejected")
	}
	if _, ok := ParsePhase(""); ok {
		t.Fatal("expected empty phase to be rejected")
	}
}

func TestPhaseClassification(t *testing.T) {
	if !PhaseCompleted.IsTerminal() || !PhaseFailed.IsTerminal() {
		t.Fatal("expected completed and failed to be terminal")
	}
	if PhaseTraining.IsTerminal() {
		t.Fatal("training must not be terminal")
	}
	if !IsProcessingPhase(PhaseTraining) || !IsProcessingPhase(PhaseEvaluating) {
		t.Fatal("training and evaluating are claim phases")
	}
	if IsProcessingPhase(PhasePendingDataset) {
		t.Fatal("pending_dataset is not a claim phase")
	}
}

func TestLaneForPhase(t *testing.T) {
	if LaneForPhase(PhasePendingDataset) != LaneAcquisition {
		t.Fatal("pending_dataset belongs to the acquisition lane")
	}
	for _, phase := range []Phase{PhasePendingTraining, PhaseTraining, PhasePendingEvaluation, PhaseEvaluating, PhaseCompleted, PhaseFailed} {
		if LaneForPhase(phase) != LaneProcessing {
			t.Fatalf("%s should map to the processing lane", phase)
		}
	}
}

func TestSetFailedClearsHeartbeatAndProgress(t *testing.T) {
	now := time.Now().UTC()
	record := &Record{Phase: PhaseTraining, LastHeartbeat: &now, ProgressPercent: 55}
	record.SetFailed("trainer crashed")
	if record.Phase != PhaseFailed {
		t.Fatalf("expected failed phase, got %s", record.Phase)
	}
	if record.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared")
	}
	if record.ErrorMessage != "trainer crashed" || record.ProgressPercent != 0 {
		t.Fatalf("unexpected failure fields: %#v", record)
	}
	if !strings.EqualFold(record.ProgressStage, "failed") {
		t.Fatalf("expected Failed progress stage, got %q", record.ProgressStage)
	}
}
