package track

import (
	"strings"
	"testing"
)

func TestStartCreatesRecordOnce(t *testing.T) {
	records := Start(nil, "s1", []string{"p1", "p2"})
	records = Respond(records, "s1", "p1", "first answer")

	// A second start for the same step must not reset responses.
	records = Start(records, "s1", []string{"p1", "p2", "p3"})
	record := records["s1"]
	if len(record.RequiredIDs) != 2 {
		t.Fatalf("required ids = %d, want 2", len(record.RequiredIDs))
	}
	if record.Responses["p1"] != "first answer" {
		t.Fatalf("response = %q, want %q", record.Responses["p1"], "first answer")
	}
}

func TestRespondLatchesWhenAllRequiredAnswer(t *testing.T) {
	records := Start(nil, "s1", []string{"p1", "p2"})

	records = Respond(records, "s1", "p1", "two")
	if records["s1"].SatisfiedOnce {
		t.Fatal("expected unsatisfied after one of two responses")
	}
	if Satisfied(records, "s1") {
		t.Fatal("expected step unsatisfied after one of two responses")
	}

	records = Respond(records, "s1", "p2", "four")
	if !records["s1"].SatisfiedOnce {
		t.Fatal("expected satisfied latch after both responses")
	}

	// A later repeat response appends and must not reset the latch.
	records = Respond(records, "s1", "p1", "six")
	record := records["s1"]
	if !record.SatisfiedOnce {
		t.Fatal("latch must not reset on repeat response")
	}
	want := "two" + ResponseSeparator + "six"
	if record.Responses["p1"] != want {
		t.Fatalf("accumulated response = %q, want %q", record.Responses["p1"], want)
	}
	if !strings.Contains(record.Responses["p1"], "\t") {
		t.Fatal("expected tab-joined accumulation")
	}
}

func TestRespondWithoutRecordIsNoop(t *testing.T) {
	records := Respond(nil, "missing", "p1", "hello")
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestDropRequiredUnblocksWaitingStep(t *testing.T) {
	records := Start(nil, "s1", []string{"p1", "p2"})
	records = Respond(records, "s1", "p1", "answer")

	records = DropRequired(records, "p2")
	if !records["s1"].SatisfiedOnce {
		t.Fatal("expected step satisfied once the only non-responder left")
	}
}

func TestDropRequiredKeepsWaitingWhenOthersPending(t *testing.T) {
	records := Start(nil, "s1", []string{"p1", "p2", "p3"})
	records = Respond(records, "s1", "p1", "answer")

	records = DropRequired(records, "p3")
	if records["s1"].SatisfiedOnce {
		t.Fatal("expected step still waiting on p2")
	}
	if Satisfied(records, "s1") {
		t.Fatal("expected step unsatisfied while p2 is pending")
	}
}

func TestDropRequiredIgnoresSatisfiedRecords(t *testing.T) {
	records := Start(nil, "s1", []string{"p1"})
	records = Respond(records, "s1", "p1", "answer")
	before := records["s1"]

	records = DropRequired(records, "p1")
	after := records["s1"]
	if !after.SatisfiedOnce {
		t.Fatal("latch must survive participant departure")
	}
	if len(after.RequiredIDs) != len(before.RequiredIDs) {
		t.Fatal("satisfied record requirement set must not change")
	}
}

func TestCloneIsolation(t *testing.T) {
	records := Start(nil, "s1", []string{"p1"})
	snapshot := Clone(records)
	records = Respond(records, "s1", "p1", "answer")

	if len(snapshot["s1"].Responses) != 0 {
		t.Fatal("clone must not observe later responses")
	}
	if !Satisfied(records, "s1") {
		t.Fatal("expected original record set satisfied")
	}
}
