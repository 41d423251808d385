// Package streaming converts provider-specific server-sent event streams
// into the engine's unified StreamEvent tagged union, and accumulates
// that union into finished content blocks.
package streaming

// BlockType distinguishes the two content-block kinds the accumulator
// understands.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// Stop reasons a MessageDelta may carry. Providers may emit other values;
// these are the ones the core distinguishes.
const (
	StopEndTurn  = "end_turn"
	StopToolUse  = "tool_use"
)

// Event is the sealed tagged union every provider variant emits.
type Event interface{ eventTag() string }

// MessageStart opens a new message, carrying the provider's input token
// count when known.
type MessageStart struct {
	ID          string
	InputTokens int
}

func (MessageStart) eventTag() string { return "message_start" }

// ContentBlockStart opens a content block at index, either text or a
// named tool-use block.
type ContentBlockStart struct {
	Index     int
	BlockType BlockType
	ToolID    string
	ToolName  string
}

func (ContentBlockStart) eventTag() string { return "content_block_start" }

// TextDelta appends text to the open text block at index.
type TextDelta struct {
	Index int
	Text  string
}

func (TextDelta) eventTag() string { return "text_delta" }

// InputJSONDelta appends a fragment of a tool call's streamed JSON
// arguments to the open tool-use block at index.
type InputJSONDelta struct {
	Index       int
	PartialJSON string
}

func (InputJSONDelta) eventTag() string { return "input_json_delta" }

// ContentBlockStop closes the block at index.
type ContentBlockStop struct {
	Index int
}

func (ContentBlockStop) eventTag() string { return "content_block_stop" }

// MessageDelta carries the message-level stop reason and output token
// count, emitted once near the end of the stream.
type MessageDelta struct {
	StopReason   string
	OutputTokens int
}

func (MessageDelta) eventTag() string { return "message_delta" }

// MessageStop signals the end of the message.
type MessageStop struct{}

func (MessageStop) eventTag() string { return "message_stop" }

// Ping is a keep-alive event carrying no data.
type Ping struct{}

func (Ping) eventTag() string { return "ping" }

// StreamError surfaces a provider-reported error mid-stream.
type StreamError struct {
	Message string
}

func (StreamError) eventTag() string { return "error" }
