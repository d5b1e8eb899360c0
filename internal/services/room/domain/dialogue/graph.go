package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
)

// StepType identifies the execution behavior of a step.
type StepType string

const (
	// StepSystemMessage emits fixed or templated text.
	StepSystemMessage StepType = "systemMessage"
	// StepRequestInput emits text and pauses for participant replies.
	StepRequestInput StepType = "requestUserInput"
	// StepPrompt invokes the external model.
	StepPrompt StepType = "promptModel"
	// StepConditional has no visible effect; it only picks the next step.
	StepConditional StepType = "conditional"
)

// CheckMode selects what a condition inspects on the stored value.
type CheckMode string

const (
	// CheckValue compares the stored value directly.
	CheckValue CheckMode = "VALUE"
	// CheckLength compares the length of a string or array value.
	CheckLength CheckMode = "LENGTH"
	// CheckContains tests array membership or substring containment.
	CheckContains CheckMode = "CONTAINS"
)

// Condition tests one stored value and names the step to jump to on success.
type Condition struct {
	SourceKey    string    `json:"source_key"`
	Mode         CheckMode `json:"mode"`
	Operator     string    `json:"operator"`
	Expected     string    `json:"expected"`
	TargetStepID string    `json:"target_step_id"`
}

// FieldType constrains one declared key of a prompt's JSON output.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
)

// Field declares one expected key in a prompt's structured JSON output.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Step is the atomic unit of dialogue execution.
type Step struct {
	ID       string   `json:"id"`
	Type     StepType `json:"type"`
	LastStep bool     `json:"last_step,omitempty"`
	JumpTo   string   `json:"jump_to,omitempty"`

	// System-message and request-input steps.
	Message string `json:"message,omitempty"`

	// Request-input steps.
	SaveKey    string `json:"save_key,omitempty"`
	RequireAll bool   `json:"require_all,omitempty"`

	// Prompt steps.
	Prompt             string  `json:"prompt,omitempty"`
	SystemRole         string  `json:"system_role,omitempty"`
	ResponseFormat     string  `json:"response_format,omitempty"`
	JSONMode           bool    `json:"json_mode,omitempty"`
	Fields             []Field `json:"fields,omitempty"`
	IncludeChatContext bool    `json:"include_chat_context,omitempty"`
	Model              string  `json:"model,omitempty"`

	// Conditional steps.
	Conditions []Condition `json:"conditions,omitempty"`
}

// Flow is an ordered sequence of steps.
type Flow struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Stage owns a set of flows. A step flagged LastStep ends the stage; the
// graph's stage policy then decides where to resume.
type Stage struct {
	ID    string `json:"id"`
	Flows []Flow `json:"flows"`
}

// StagePolicy picks the next stage id after a terminal step, given the
// collected dialogue data.
type StagePolicy func(collected []byte) (string, error)

// Graph is a named dialogue graph.
type Graph struct {
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`

	// NextStage decides the stage that follows a terminal step. When nil,
	// stages advance in declared order.
	NextStage StagePolicy `json:"-"`
}

// Parse decodes a graph from JSON and validates it.
func Parse(data []byte) (*Graph, error) {
	var graph Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("parse dialogue graph: %w", err)
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &graph, nil
}

// Validate checks structural rules: at least one stage with one step, and
// step ids unique within the graph.
func (g *Graph) Validate() error {
	if len(g.Stages) == 0 {
		return fmt.Errorf("dialogue graph %q has no stages", g.Name)
	}
	seen := make(map[string]struct{})
	for _, stage := range g.Stages {
		if strings.TrimSpace(stage.ID) == "" {
			return fmt.Errorf("dialogue graph %q has a stage with an empty id", g.Name)
		}
		steps := 0
		for _, flow := range stage.Flows {
			for _, step := range flow.Steps {
				steps++
				if strings.TrimSpace(step.ID) == "" {
					return fmt.Errorf("stage %q has a step with an empty id", stage.ID)
				}
				if _, dup := seen[step.ID]; dup {
					return fmt.Errorf("duplicate step id %q", step.ID)
				}
				seen[step.ID] = struct{}{}
			}
		}
		if steps == 0 {
			return fmt.Errorf("stage %q has no steps", stage.ID)
		}
	}
	return nil
}

// StageByID returns the stage with the given id, or the first stage when id
// is empty.
func (g *Graph) StageByID(id string) (Stage, error) {
	if id == "" {
		return g.Stages[0], nil
	}
	for _, stage := range g.Stages {
		if stage.ID == id {
			return stage, nil
		}
	}
	return Stage{}, errors.WithMetadata(errors.CodeDialogueStageNotFound,
		"stage is not in the dialogue graph",
		map[string]string{"stage_id": id})
}

// ResolveNextStage applies the graph's stage policy, defaulting to declared
// order when no policy is set.
func (g *Graph) ResolveNextStage(currentStageID string, collected []byte) (string, error) {
	if g.NextStage != nil {
		return g.NextStage(collected)
	}
	for i, stage := range g.Stages {
		if stage.ID == currentStageID {
			if i+1 < len(g.Stages) {
				return g.Stages[i+1].ID, nil
			}
			return "", errors.WithMetadata(errors.CodeDialogueStageNotFound,
				"terminal step in the final stage has no successor",
				map[string]string{"stage_id": currentStageID})
		}
	}
	return "", errors.WithMetadata(errors.CodeDialogueStageNotFound,
		"current stage is not in the dialogue graph",
		map[string]string{"stage_id": currentStageID})
}

// FirstStep returns the first step of the stage's first non-empty flow.
func (s Stage) FirstStep() (Step, error) {
	for _, flow := range s.Flows {
		if len(flow.Steps) > 0 {
			return flow.Steps[0], nil
		}
	}
	return Step{}, errors.WithMetadata(errors.CodeDialogueStepNotFound,
		"stage has no steps",
		map[string]string{"stage_id": s.ID})
}

// StepByID returns the step with the given id, or the stage's first step when
// id is empty.
func (s Stage) StepByID(id string) (Step, error) {
	if id == "" {
		return s.FirstStep()
	}
	for _, flow := range s.Flows {
		for _, step := range flow.Steps {
			if step.ID == id {
				return step, nil
			}
		}
	}
	return Step{}, errors.WithMetadata(errors.CodeDialogueStepNotFound,
		"step is not in the current stage",
		map[string]string{"stage_id": s.ID, "step_id": id})
}

// StepAfter returns the step following id within the flow that contains it.
// It fails when id ends its flow, which is a graph-authoring error for
// non-terminal steps.
func (s Stage) StepAfter(id string) (Step, error) {
	for _, flow := range s.Flows {
		for i, step := range flow.Steps {
			if step.ID != id {
				continue
			}
			if i+1 < len(flow.Steps) {
				return flow.Steps[i+1], nil
			}
			return Step{}, errors.WithMetadata(errors.CodeDialogueNoNextStep,
				"step ends its flow without a jump or terminal marker",
				map[string]string{"stage_id": s.ID, "step_id": id})
		}
	}
	return Step{}, errors.WithMetadata(errors.CodeDialogueStepNotFound,
		"step is not in the current stage",
		map[string]string{"stage_id": s.ID, "step_id": id})
}
