package dialogue

import (
	"testing"

	apperrors "github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
)

func twoStageGraph() *Graph {
	return &Graph{
		Name: "slope-intro",
		Stages: []Stage{
			{
				ID: "A",
				Flows: []Flow{{
					Name: "main",
					Steps: []Step{
						{ID: "a1", Type: StepSystemMessage, Message: "welcome"},
						{ID: "a2", Type: StepRequestInput, Message: "ready?"},
					},
				}},
			},
			{
				ID: "B",
				Flows: []Flow{{
					Name: "main",
					Steps: []Step{
						{ID: "b1", Type: StepSystemMessage, Message: "stage two"},
					},
				}},
			},
		},
	}
}

func TestParseValidGraph(t *testing.T) {
	data := []byte(`{
		"name": "g",
		"stages": [
			{"id": "A", "flows": [{"name": "main", "steps": [
				{"id": "s1", "type": "systemMessage", "message": "hello"},
				{"id": "s2", "type": "conditional", "conditions": [
					{"source_key": "score", "mode": "VALUE", "operator": ">", "expected": "5", "target_step_id": "s1"}
				]}
			]}]}
		]
	}`)

	graph, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if graph.Name != "g" {
		t.Fatalf("name = %q", graph.Name)
	}
	step, err := graph.Stages[0].StepByID("s2")
	if err != nil {
		t.Fatalf("step by id: %v", err)
	}
	if len(step.Conditions) != 1 || step.Conditions[0].TargetStepID != "s1" {
		t.Fatalf("unexpected conditions: %+v", step.Conditions)
	}
}

func TestParseRejectsDuplicateStepIDs(t *testing.T) {
	data := []byte(`{
		"name": "g",
		"stages": [
			{"id": "A", "flows": [{"name": "main", "steps": [
				{"id": "s1", "type": "systemMessage"},
				{"id": "s1", "type": "systemMessage"}
			]}]}
		]
	}`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected duplicate step id error")
	}
}

func TestValidateRejectsEmptyGraph(t *testing.T) {
	graph := &Graph{Name: "empty"}
	if err := graph.Validate(); err == nil {
		t.Fatal("expected error for graph with no stages")
	}
}

func TestStageByID(t *testing.T) {
	graph := twoStageGraph()

	stage, err := graph.StageByID("")
	if err != nil || stage.ID != "A" {
		t.Fatalf("empty id should resolve first stage, got %q err %v", stage.ID, err)
	}

	stage, err = graph.StageByID("B")
	if err != nil || stage.ID != "B" {
		t.Fatalf("stage = %q err %v", stage.ID, err)
	}

	_, err = graph.StageByID("Z")
	if !apperrors.IsCode(err, apperrors.CodeDialogueStageNotFound) {
		t.Fatalf("expected stage-not-found, got %v", err)
	}
}

func TestStepLookups(t *testing.T) {
	graph := twoStageGraph()
	stage := graph.Stages[0]

	first, err := stage.FirstStep()
	if err != nil || first.ID != "a1" {
		t.Fatalf("first step = %q err %v", first.ID, err)
	}

	next, err := stage.StepAfter("a1")
	if err != nil || next.ID != "a2" {
		t.Fatalf("step after a1 = %q err %v", next.ID, err)
	}

	_, err = stage.StepAfter("a2")
	if !apperrors.IsCode(err, apperrors.CodeDialogueNoNextStep) {
		t.Fatalf("expected no-next-step, got %v", err)
	}

	_, err = stage.StepByID("b1")
	if !apperrors.IsCode(err, apperrors.CodeDialogueStepNotFound) {
		t.Fatalf("expected step-not-found, got %v", err)
	}
}

func TestResolveNextStageDefaultsToDeclaredOrder(t *testing.T) {
	graph := twoStageGraph()

	next, err := graph.ResolveNextStage("A", []byte(`{}`))
	if err != nil || next != "B" {
		t.Fatalf("next stage = %q err %v", next, err)
	}

	_, err = graph.ResolveNextStage("B", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error advancing past final stage")
	}
}

func TestResolveNextStageUsesPolicy(t *testing.T) {
	graph := twoStageGraph()
	graph.NextStage = func(collected []byte) (string, error) { return "B", nil }

	next, err := graph.ResolveNextStage("A", []byte(`{}`))
	if err != nil || next != "B" {
		t.Fatalf("next stage = %q err %v", next, err)
	}
}
