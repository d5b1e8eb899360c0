package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(CodeInvocationFailed, "invoke model", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to match")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := New(CodeDialogueNoNextStep, "step s2 has no successor")
	b := New(CodeDialogueNoNextStep, "different message")
	if !stderrors.Is(a, b) {
		t.Fatal("expected errors with the same code to match")
	}
	c := New(CodeDialogueStepNotFound, "step missing")
	if stderrors.Is(a, c) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestGetCodeThroughWrapping(t *testing.T) {
	inner := New(CodeRoomPlayerNotFound, "player p1 not in roster")
	wrapped := fmt.Errorf("apply command: %w", inner)
	if got := GetCode(wrapped); got != CodeRoomPlayerNotFound {
		t.Fatalf("code = %s, want %s", got, CodeRoomPlayerNotFound)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %s, want %s", got, CodeUnknown)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeRoomPlayerEmptyID, codes.InvalidArgument},
		{CodeDialogueNoNextStep, codes.FailedPrecondition},
		{CodeRoomPlayerNotFound, codes.NotFound},
		{CodeInvocationFailed, codes.Unavailable},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("%s grpc code = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestHandleErrorStatus(t *testing.T) {
	err := HandleError(New(CodeDialogueStepNotFound, "step x not found"))
	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.NotFound {
		t.Fatalf("status code = %s, want %s", st.Code(), codes.NotFound)
	}
}

func TestHandleErrorUnknown(t *testing.T) {
	err := HandleError(stderrors.New("plain failure"))
	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.Internal {
		t.Fatalf("status code = %s, want %s", st.Code(), codes.Internal)
	}
	if st.Message() == "plain failure" {
		t.Fatal("internal error detail must not leak to clients")
	}
}

func TestHandleErrorNil(t *testing.T) {
	if err := HandleError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
