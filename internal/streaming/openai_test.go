package streaming

import "testing"

func TestOpenAIDecoderTextStream(t *testing.T) {
	d := NewOpenAIDecoder()

	events, err := d.Decode(Frame{Data: `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant"}}]}`})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (MessageStart + ContentBlockStart{0,Text})", len(events))
	}
	if _, ok := events[0].(MessageStart); !ok {
		t.Fatalf("events[0] = %T, want MessageStart", events[0])
	}
	if start, ok := events[1].(ContentBlockStart); !ok || start.Index != 0 || start.BlockType != BlockText {
		t.Fatalf("events[1] = %+v, want ContentBlockStart{Index:0, BlockType:Text}", events[1])
	}

	events, err = d.Decode(Frame{Data: `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"hi"}}]}`})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (TextDelta only, block 0 already open)", len(events))
	}
	if td, ok := events[0].(TextDelta); !ok || td.Text != "hi" {
		t.Fatalf("events[0] = %+v, want TextDelta{Text:hi}", events[0])
	}

	events, err = d.Decode(Frame{Data: `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"completion_tokens":5}}`})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (ContentBlockStop + MessageDelta)", len(events))
	}
	if _, ok := events[0].(ContentBlockStop); !ok {
		t.Fatalf("events[0] = %T, want ContentBlockStop", events[0])
	}
	md, ok := events[1].(MessageDelta)
	if !ok || md.StopReason != StopEndTurn || md.OutputTokens != 5 {
		t.Fatalf("events[1] = %+v", events[1])
	}

	events, err = d.Decode(Frame{Data: "[DONE]"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (MessageStop)", len(events))
	}
	if _, ok := events[0].(MessageStop); !ok {
		t.Fatalf("got %T, want MessageStop", events[0])
	}
}

func TestOpenAIDecoderToolCalls(t *testing.T) {
	d := NewOpenAIDecoder()

	events, err := d.Decode(Frame{Data: `{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":""}}]}}]}`})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (MessageStart + ContentBlockStart{0,Text} + ContentBlockStart{1,ToolUse})", len(events))
	}
	if textStart, ok := events[1].(ContentBlockStart); !ok || textStart.Index != 0 || textStart.BlockType != BlockText {
		t.Fatalf("events[1] = %+v, want ContentBlockStart{Index:0, BlockType:Text}", events[1])
	}
	start, ok := events[2].(ContentBlockStart)
	if !ok || start.Index != 1 || start.BlockType != BlockToolUse || start.ToolName != "read_file" {
		t.Fatalf("events[2] = %+v", events[2])
	}

	events, err = d.Decode(Frame{Data: `{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"/a\"}"}}]}}]}`})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (InputJSONDelta)", len(events))
	}
	delta, ok := events[0].(InputJSONDelta)
	if !ok || delta.Index != 1 || delta.PartialJSON != `{"path":"/a"}` {
		t.Fatalf("events[0] = %+v", events[0])
	}

	events, err = d.Decode(Frame{Data: `{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"completion_tokens":3}}`})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (ContentBlockStop(0) + ContentBlockStop(1) + MessageDelta)", len(events))
	}
	if textStop, ok := events[0].(ContentBlockStop); !ok || textStop.Index != 0 {
		t.Fatalf("events[0] = %+v, want ContentBlockStop{Index:0}", events[0])
	}
	stop, ok := events[1].(ContentBlockStop)
	if !ok || stop.Index != 1 {
		t.Fatalf("events[1] = %+v, want ContentBlockStop{Index:1}", events[1])
	}
	md, ok := events[2].(MessageDelta)
	if !ok || md.StopReason != StopToolUse {
		t.Fatalf("events[2] = %+v", events[2])
	}
}
