package reflector

import (
	"strings"
	"testing"
)

func TestShouldReflectOnErroringToolResult(t *testing.T) {
	messages := []Message{{Role: "user", Text: "do the thing"}}
	results := []ToolResult{{ToolName: "grep", IsError: true}}
	if !ShouldReflect(messages, results) {
		t.Error("ShouldReflect = false, want true (erroring tool result)")
	}
}

func TestShouldReflectOnCorrectionKeyword(t *testing.T) {
	messages := []Message{{Role: "user", Text: "no, that's wrong, fix it"}}
	if !ShouldReflect(messages, nil) {
		t.Error("ShouldReflect = false, want true (correction keyword)")
	}
}

func TestShouldReflectOnManyToolResults(t *testing.T) {
	messages := []Message{{Role: "user", Text: "ok"}}
	results := []ToolResult{{ToolName: "a"}, {ToolName: "b"}, {ToolName: "c"}}
	if !ShouldReflect(messages, results) {
		t.Error("ShouldReflect = false, want true (>2 tool results)")
	}
}

func TestShouldReflectFalseForOrdinaryTurn(t *testing.T) {
	messages := []Message{{Role: "user", Text: "thanks, looks good"}}
	results := []ToolResult{{ToolName: "ls"}}
	if ShouldReflect(messages, results) {
		t.Error("ShouldReflect = true, want false (ordinary turn)")
	}
}

func TestCondenseTurnLimitsToFourMessages(t *testing.T) {
	messages := []Message{
		{Role: "user", Text: "one"},
		{Role: "assistant", Text: "two"},
		{Role: "user", Text: "three"},
		{Role: "assistant", Text: "four"},
		{Role: "user", Text: "five"},
	}
	out := CondenseTurn(messages)
	if strings.Contains(out, "one") {
		t.Error("CondenseTurn should drop messages beyond the most recent 4")
	}
	if !strings.Contains(out, "five") {
		t.Error("CondenseTurn should include the most recent message")
	}
}

func TestCondenseTurnTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 600)
	messages := []Message{{Role: "user", Text: long}}
	out := CondenseTurn(messages)
	if len(out) >= len(long) {
		t.Errorf("CondenseTurn did not truncate: output length %d", len(out))
	}
}

func TestParseReflectionPlainJSON(t *testing.T) {
	raw := `{"learnings":[{"category":"strategy","content":"test first","confidence":0.8}],"helpful_ids":["a"],"harmful_ids":[],"tool_observations":[]}`
	refl, err := ParseReflection(raw)
	if err != nil {
		t.Fatalf("ParseReflection: %v", err)
	}
	if len(refl.Learnings) != 1 || refl.Learnings[0].Content != "test first" {
		t.Errorf("Learnings = %+v", refl.Learnings)
	}
	if len(refl.HelpfulIDs) != 1 || refl.HelpfulIDs[0] != "a" {
		t.Errorf("HelpfulIDs = %+v", refl.HelpfulIDs)
	}
}

func TestParseReflectionStripsCodeFenceAndProse(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"learnings\":[],\"helpful_ids\":[],\"harmful_ids\":[],\"tool_observations\":[]}\n```\nThanks!"
	refl, err := ParseReflection(raw)
	if err != nil {
		t.Fatalf("ParseReflection: %v", err)
	}
	if refl.Learnings != nil && len(refl.Learnings) != 0 {
		t.Errorf("Learnings = %+v, want empty", refl.Learnings)
	}
}

func TestParseReflectionNoJSONErrors(t *testing.T) {
	if _, err := ParseReflection("not json at all"); err == nil {
		t.Fatal("ParseReflection: want error for non-JSON input")
	}
}
