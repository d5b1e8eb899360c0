package step

import (
	"context"
	"sort"
	"time"

	"github.com/tidwall/sjson"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/ai"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/dialogue"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/evaluate"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/track"
)

// maxAdvances bounds how many steps one Advance call may execute. Hitting
// the bound means the graph loops without a waiting step.
const maxAdvances = 64

// defaultAttempts is the model invocation retry budget.
const defaultAttempts = 3

// Engine drives a room through its dialogue graph.
type Engine struct {
	Graph   *dialogue.Graph
	Invoker ai.Invoker

	// PersistTruthKeys are the keys guarded by the persist-truth latch.
	PersistTruthKeys []string

	// Attempts is the invocation retry budget; zero means defaultAttempts.
	Attempts int

	// NewID mints chat entry ids.
	NewID func() string
	// Now supplies timestamps.
	Now func() time.Time
}

// Advance executes the current step and any immediately-complete successors.
// It returns the updated room when execution pauses on a waiting step or the
// dialogue cannot proceed this cycle. A returned error is a graph-authoring
// problem; the caller should discard the returned room and surface the error.
// Invocation exhaustion is not an error: the room comes back with a visible
// failure message and the step left unadvanced.
func (e *Engine) Advance(ctx context.Context, room state.Room) (state.Room, error) {
	for i := 0; i < maxAdvances; i++ {
		stage, err := e.Graph.StageByID(room.Global.CurStageID)
		if err != nil {
			return room, err
		}
		current, err := stage.StepByID(room.Global.CurStepID)
		if err != nil {
			return room, err
		}
		// The cursor may have been empty before the first step ran.
		room.Global.CurStageID = stage.ID
		room.Global.CurStepID = current.ID

		if !room.Global.StepEntered {
			room, err = e.enter(ctx, room, current)
			if err != nil {
				return room, err
			}
			if !room.Global.StepEntered {
				// Invocation exhausted; step stays pending for a later cycle.
				return room, nil
			}
		}

		var done bool
		room, done, err = e.complete(room, current)
		if err != nil {
			return room, err
		}
		if !done {
			return room, nil
		}

		room, err = e.next(room, stage, current)
		if err != nil {
			return room, err
		}
	}
	return room, errors.WithMetadata(errors.CodeDialogueCycleDetected,
		"dialogue advanced past the step budget without pausing",
		map[string]string{"stage_id": room.Global.CurStageID, "step_id": room.Global.CurStepID})
}

// enter runs the step's entry side effect once. On return with StepEntered
// still false the step failed non-fatally and must not advance.
func (e *Engine) enter(ctx context.Context, room state.Room, current dialogue.Step) (state.Room, error) {
	switch current.Type {
	case dialogue.StepSystemMessage:
		text, err := dialogue.Render(current.Message, room.Global.Collected)
		if err != nil {
			return room, err
		}
		room = state.AppendSystemMessage(room, e.NewID(), text, e.Now())

	case dialogue.StepRequestInput:
		// Tracking must exist before the prompt text goes out so no reply
		// can race ahead of it.
		if current.RequireAll {
			room.Tracking = track.Start(room.Tracking, current.ID, room.PlayerIDs())
		}
		text, err := dialogue.Render(current.Message, room.Global.Collected)
		if err != nil {
			return room, err
		}
		room = state.AppendSystemMessage(room, e.NewID(), text, e.Now())
		room.Global.ChatMark = len(room.Chat)

	case dialogue.StepPrompt:
		return e.invoke(ctx, room, current)

	case dialogue.StepConditional:
		// No visible effect; the step only picks a successor.

	default:
		return room, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"unknown step type",
			map[string]string{"step_id": current.ID, "type": string(current.Type)})
	}
	room.Global.StepEntered = true
	return room, nil
}

// complete decides whether the current step has finished, merging gathered
// input into the collected data when it has.
func (e *Engine) complete(room state.Room, current dialogue.Step) (state.Room, bool, error) {
	switch current.Type {
	case dialogue.StepSystemMessage, dialogue.StepPrompt, dialogue.StepConditional:
		return room, true, nil

	case dialogue.StepRequestInput:
		if current.RequireAll {
			if !track.Satisfied(room.Tracking, current.ID) {
				return room, false, nil
			}
			room, err := saveAllResponses(room, current)
			return room, err == nil, err
		}
		text, ok := latestReply(room)
		if !ok {
			return room, false, nil
		}
		room, err := saveReply(room, current, text)
		return room, err == nil, err

	default:
		return room, false, errors.WithMetadata(errors.CodeDialogueConditionInvalid,
			"unknown step type",
			map[string]string{"step_id": current.ID, "type": string(current.Type)})
	}
}

// next moves the cursor to the step that follows current.
func (e *Engine) next(room state.Room, stage dialogue.Stage, current dialogue.Step) (state.Room, error) {
	if current.LastStep {
		nextStageID, err := e.Graph.ResolveNextStage(stage.ID, room.Global.Collected)
		if err != nil {
			return room, err
		}
		nextStage, err := e.Graph.StageByID(nextStageID)
		if err != nil {
			return room, err
		}
		first, err := nextStage.FirstStep()
		if err != nil {
			return room, err
		}
		return moveCursor(room, nextStage.ID, first.ID), nil
	}

	if current.Type == dialogue.StepConditional {
		targetID, err := evaluate.ResolveNext(current.Conditions, room.Global.Collected)
		if err != nil {
			return room, err
		}
		if _, err := stage.StepByID(targetID); err != nil {
			return room, errors.WithMetadata(errors.CodeDialogueJumpTargetMissing,
				"condition targets a step outside the current stage",
				map[string]string{"step_id": current.ID, "target_step_id": targetID})
		}
		return moveCursor(room, stage.ID, targetID), nil
	}

	if current.JumpTo != "" {
		if _, err := stage.StepByID(current.JumpTo); err != nil {
			return room, errors.WithMetadata(errors.CodeDialogueJumpTargetMissing,
				"jump targets a step outside the current stage",
				map[string]string{"step_id": current.ID, "target_step_id": current.JumpTo})
		}
		return moveCursor(room, stage.ID, current.JumpTo), nil
	}

	following, err := stage.StepAfter(current.ID)
	if err != nil {
		return room, err
	}
	return moveCursor(room, stage.ID, following.ID), nil
}

func moveCursor(room state.Room, stageID, stepID string) state.Room {
	room.Global.CurStageID = stageID
	room.Global.CurStepID = stepID
	room.Global.StepEntered = false
	return room
}

// latestReply returns the newest participant message sent since the current
// step's prompt text was emitted.
func latestReply(room state.Room) (string, bool) {
	for i := len(room.Chat) - 1; i >= room.Global.ChatMark; i-- {
		if room.Chat[i].Sender == state.SenderPlayer {
			return room.Chat[i].Message, true
		}
	}
	return "", false
}

// saveReply stores a single participant reply under the step's save key.
func saveReply(room state.Room, current dialogue.Step, text string) (state.Room, error) {
	if current.SaveKey == "" {
		return room, nil
	}
	collected, err := sjson.SetBytes(room.Global.Collected, current.SaveKey, text)
	if err != nil {
		return room, errors.Wrap(errors.CodeUnknown, "store reply", err)
	}
	room.Global.Collected = collected
	return room, nil
}

// saveAllResponses stores every tracked reply for a require-all step as an
// array: roster order first, then departed responders for determinism.
func saveAllResponses(room state.Room, current dialogue.Step) (state.Room, error) {
	if current.SaveKey == "" {
		return room, nil
	}
	record, ok := room.Tracking[current.ID]
	if !ok {
		return room, nil
	}
	var responses []string
	seen := make(map[string]struct{}, len(record.Responses))
	for _, id := range room.PlayerIDs() {
		if text, found := record.Responses[id]; found {
			responses = append(responses, text)
			seen[id] = struct{}{}
		}
	}
	for _, id := range sortedResponderIDs(record) {
		if _, dup := seen[id]; dup {
			continue
		}
		responses = append(responses, record.Responses[id])
	}
	collected, err := sjson.SetBytes(room.Global.Collected, current.SaveKey, responses)
	if err != nil {
		return room, errors.Wrap(errors.CodeUnknown, "store replies", err)
	}
	room.Global.Collected = collected
	return room, nil
}

func sortedResponderIDs(record track.Record) []string {
	ids := make([]string, 0, len(record.Responses))
	for id := range record.Responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
