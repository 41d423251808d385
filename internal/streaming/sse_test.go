package streaming

import (
	"bufio"
	"strings"
	"testing"
)

func TestScanFramesBasic(t *testing.T) {
	body := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\"}\n\n"

	frames, err := ScanFrames(bufio.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("ScanFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Event != "message_start" {
		t.Errorf("frames[0].Event = %q, want message_start", frames[0].Event)
	}
	if frames[1].Data != `{"type":"content_block_delta"}` {
		t.Errorf("frames[1].Data = %q", frames[1].Data)
	}
}

func TestScanFramesNoEventField(t *testing.T) {
	body := `data: {"id":"1"}` + "\n\n" + `data: [DONE]` + "\n\n"
	frames, err := ScanFrames(bufio.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("ScanFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Event != "" {
		t.Errorf("frames[0].Event = %q, want empty", frames[0].Event)
	}
	if frames[1].Data != "[DONE]" {
		t.Errorf("frames[1].Data = %q, want [DONE]", frames[1].Data)
	}
}

func TestScanFramesMultilineData(t *testing.T) {
	body := "data: line one\ndata: line two\n\n"
	frames, err := ScanFrames(bufio.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("ScanFrames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Data != "line one\nline two" {
		t.Errorf("frames[0].Data = %q", frames[0].Data)
	}
}

func TestScanFramesIgnoresComments(t *testing.T) {
	body := ": this is a comment\ndata: {\"ok\":true}\n\n"
	frames, err := ScanFrames(bufio.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("ScanFrames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Data != `{"ok":true}` {
		t.Errorf("frames[0].Data = %q", frames[0].Data)
	}
}

func TestScanFramesNoTrailingBlankLine(t *testing.T) {
	body := "data: {\"ok\":true}"
	frames, err := ScanFrames(bufio.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("ScanFrames: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (final flush on EOF)", len(frames))
	}
}
