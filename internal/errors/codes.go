// Package errors provides structured error handling for room and dialogue failures.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Room errors
	CodeRoomEmptyID            Code = "ROOM_EMPTY_ID"
	CodeRoomPlayerNotFound     Code = "ROOM_PLAYER_NOT_FOUND"
	CodeRoomPlayerEmptyID      Code = "ROOM_PLAYER_EMPTY_ID"
	CodeRoomNotAuthoritative   Code = "ROOM_NOT_AUTHORITATIVE"
	CodeRoomActionInvalidKind  Code = "ROOM_ACTION_INVALID_KIND"
	CodeRoomActionEmptyPayload Code = "ROOM_ACTION_EMPTY_PAYLOAD"

	// Dialogue graph errors
	CodeDialogueStageNotFound     Code = "DIALOGUE_STAGE_NOT_FOUND"
	CodeDialogueStepNotFound      Code = "DIALOGUE_STEP_NOT_FOUND"
	CodeDialogueNoNextStep        Code = "DIALOGUE_NO_NEXT_STEP"
	CodeDialogueJumpTargetMissing Code = "DIALOGUE_JUMP_TARGET_MISSING"
	CodeDialogueVariableUnset     Code = "DIALOGUE_VARIABLE_UNSET"
	CodeDialogueConditionNoMatch  Code = "DIALOGUE_CONDITION_NO_MATCH"
	CodeDialogueConditionInvalid  Code = "DIALOGUE_CONDITION_INVALID"
	CodeDialogueCycleDetected     Code = "DIALOGUE_CYCLE_DETECTED"

	// Model invocation errors
	CodeInvocationFailed         Code = "INVOCATION_FAILED"
	CodeInvocationOutputNotJSON  Code = "INVOCATION_OUTPUT_NOT_JSON"
	CodeInvocationSchemaMismatch Code = "INVOCATION_SCHEMA_MISMATCH"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeRoomEmptyID,
		CodeRoomPlayerEmptyID,
		CodeRoomActionInvalidKind,
		CodeRoomActionEmptyPayload:
		return codes.InvalidArgument

	// FailedPrecondition - state or graph authoring doesn't allow operation
	case CodeRoomNotAuthoritative,
		CodeDialogueNoNextStep,
		CodeDialogueJumpTargetMissing,
		CodeDialogueVariableUnset,
		CodeDialogueConditionNoMatch,
		CodeDialogueConditionInvalid,
		CodeDialogueCycleDetected:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeRoomPlayerNotFound,
		CodeDialogueStageNotFound,
		CodeDialogueStepNotFound:
		return codes.NotFound

	// Unavailable - the model collaborator could not produce a usable answer
	case CodeInvocationFailed,
		CodeInvocationOutputNotJSON,
		CodeInvocationSchemaMismatch:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
