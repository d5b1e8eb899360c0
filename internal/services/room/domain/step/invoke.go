package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/ai"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/dialogue"
	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/services/room/domain/state"
)

// invoke runs a prompt step: render its texts, call the model with a bounded
// retry budget, then merge the output into state. On retry exhaustion the
// room comes back with StepEntered still false and a visible failure message;
// the caller treats that as a pause, not an error.
func (e *Engine) invoke(ctx context.Context, room state.Room, current dialogue.Step) (state.Room, error) {
	req, err := e.buildRequest(room, current)
	if err != nil {
		return room, err
	}

	attempts := e.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var merged state.Room
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, invokeErr := e.Invoker.Invoke(ctx, req)
		if invokeErr != nil {
			// A cancelled call still burns an attempt.
			lastErr = invokeErr
			continue
		}
		merged, lastErr = e.mergeOutput(room, current, result)
		if lastErr == nil {
			merged.Global.StepEntered = true
			merged.Global.LastFailedStepID = ""
			return merged, nil
		}
	}

	// Exhausted. Leave the step unentered so later activity retries it, and
	// announce the failure only once per stuck step.
	if room.Global.LastFailedStepID != current.ID {
		room = state.AppendSystemMessage(room, e.NewID(),
			"Something went wrong generating a response. The activity will retry shortly.",
			e.Now())
	}
	room.Global.LastFailedStepID = current.ID
	return room, nil
}

// buildRequest renders the step's prompt texts against the collected data.
func (e *Engine) buildRequest(room state.Room, current dialogue.Step) (ai.Request, error) {
	prompt, err := dialogue.Render(current.Prompt, room.Global.Collected)
	if err != nil {
		return ai.Request{}, err
	}
	systemRole, err := dialogue.Render(current.SystemRole, room.Global.Collected)
	if err != nil {
		return ai.Request{}, err
	}
	format, err := dialogue.Render(current.ResponseFormat, room.Global.Collected)
	if err != nil {
		return ai.Request{}, err
	}
	req := ai.Request{
		Model:          current.Model,
		Prompt:         prompt,
		SystemRole:     systemRole,
		ResponseFormat: format,
		JSONMode:       current.JSONMode,
	}
	if current.IncludeChatContext {
		req.Context = serializeChat(room.Chat)
	}
	return req, nil
}

// mergeOutput applies a model reply to the room. Text output becomes a chat
// message; JSON output must parse, pass the declared field schema, and is
// merged into the collected data and the authoritative participant's state.
func (e *Engine) mergeOutput(room state.Room, current dialogue.Step, result ai.Result) (state.Room, error) {
	if !current.JSONMode {
		return state.AppendSystemMessage(room, e.NewID(), result.Text, e.Now()), nil
	}

	payload := stripFences(result.Text)
	if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
		return room, errors.WithMetadata(errors.CodeInvocationOutputNotJSON,
			"model output is not a JSON object",
			map[string]string{"step_id": current.ID})
	}
	parsed := gjson.Parse(payload)
	if err := checkFields(current, parsed); err != nil {
		return room, err
	}

	collected := room.Global.Collected
	var entries []state.Entry
	var mergeErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		collected, mergeErr = sjson.SetRawBytes(collected, key.String(), []byte(value.Raw))
		if mergeErr != nil {
			return false
		}
		entries = append(entries, state.Entry{Key: key.String(), Value: flatten(value)})
		return true
	})
	if mergeErr != nil {
		return room, errors.Wrap(errors.CodeUnknown, "merge model output", mergeErr)
	}
	room.Global.Collected = collected

	if _, ok := room.Player(room.Global.AuthorID); ok {
		var err error
		room, err = state.UpsertPlayer(room, e.PersistTruthKeys, room.Global.AuthorID, entries)
		if err != nil {
			return room, err
		}
	}
	return room, nil
}

// checkFields validates the parsed output against the step's declared schema.
func checkFields(current dialogue.Step, parsed gjson.Result) error {
	for _, field := range current.Fields {
		value := parsed.Get(field.Name)
		if !value.Exists() {
			return errors.WithMetadata(errors.CodeInvocationSchemaMismatch,
				"model output is missing a declared field",
				map[string]string{"step_id": current.ID, "field": field.Name})
		}
		var ok bool
		switch field.Type {
		case dialogue.FieldString:
			ok = value.Type == gjson.String
		case dialogue.FieldNumber:
			ok = value.Type == gjson.Number
		case dialogue.FieldBoolean:
			ok = value.Type == gjson.True || value.Type == gjson.False
		case dialogue.FieldArray:
			ok = value.IsArray()
		default:
			ok = true
		}
		if !ok {
			return errors.WithMetadata(errors.CodeInvocationSchemaMismatch,
				"model output field has the wrong type",
				map[string]string{"step_id": current.ID, "field": field.Name, "want": string(field.Type)})
		}
	}
	return nil
}

// serializeChat flattens the chat log into speaker-prefixed lines.
func serializeChat(chat []state.ChatEntry) string {
	lines := make([]string, 0, len(chat))
	for _, entry := range chat {
		speaker := entry.SenderName
		if entry.Sender == state.SenderSystem {
			speaker = "System"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, entry.Message))
	}
	return strings.Join(lines, "\n")
}

// stripFences removes a markdown code fence wrapper from model output.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		// Drop a language tag like "json" on the opening fence line.
		first := strings.TrimSpace(trimmed[:newline])
		if !strings.ContainsAny(first, "{[") {
			trimmed = trimmed[newline+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// flatten renders a JSON value as the string stored in participant state.
func flatten(value gjson.Result) string {
	if value.Type == gjson.String {
		return value.Str
	}
	return value.Raw
}
