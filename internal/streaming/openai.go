package streaming

import (
	"encoding/json"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// toolBlockIndex returns the unified content-block index for a tool call
// appearing at the given position in the delta's tool_calls array. Text
// always occupies block 0; tool-use blocks occupy 1..N in declaration
// order within the stream.
func toolBlockIndex(toolCallIndex int) int { return toolCallIndex + 1 }

// OpenAIDecoder reassembles the stateful OpenAI-compatible stream, which
// unlike Anthropic's does not explicitly open or close content blocks on
// the wire. The decoder synthesizes block 0 (text) unconditionally at
// stream start and closes it unconditionally at finish, so a pure
// tool-call stream still produces a pairable ContentBlockStart/Stop{0}
// for consumers modeled on the unified accumulator; each
// tool_calls[].index implies its own tool-use block, first seen at its
// first delta and closed only when the stream's finish_reason arrives.
// Frame payloads are decoded directly against go-openai's
// ChatCompletionStreamResponse, the same wire shape the teacher's
// CreateChatCompletionStream loop consumes.
type OpenAIDecoder struct {
	started      bool
	openToolIdxs map[int]bool
}

// NewOpenAIDecoder constructs a decoder for a single stream.
func NewOpenAIDecoder() *OpenAIDecoder {
	return &OpenAIDecoder{openToolIdxs: make(map[int]bool)}
}

// Decode consumes one SSE frame and returns the unified events it implies,
// in order. A frame may imply zero, one, or several events (e.g. first
// text delta of a stream implies both MessageStart and ContentBlockStart).
func (d *OpenAIDecoder) Decode(frame Frame) ([]Event, error) {
	if frame.Data == "[DONE]" {
		return []Event{MessageStop{}}, nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
		return nil, err
	}

	var events []Event
	if !d.started {
		d.started = true
		inputTokens := 0
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
		}
		events = append(events, MessageStart{ID: chunk.ID, InputTokens: inputTokens})
		events = append(events, ContentBlockStart{Index: 0, BlockType: BlockText})
	}

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, TextDelta{Index: 0, Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		callIndex := 0
		if tc.Index != nil {
			callIndex = *tc.Index
		}
		idx := toolBlockIndex(callIndex)
		if !d.openToolIdxs[idx] {
			d.openToolIdxs[idx] = true
			events = append(events, ContentBlockStart{Index: idx, BlockType: BlockToolUse, ToolID: tc.ID, ToolName: tc.Function.Name})
		}
		if tc.Function.Arguments != "" {
			events = append(events, InputJSONDelta{Index: idx, PartialJSON: tc.Function.Arguments})
		}
	}

	if choice.FinishReason != "" {
		outputTokens := 0
		if chunk.Usage != nil {
			outputTokens = chunk.Usage.CompletionTokens
		}
		events = append(events, ContentBlockStop{Index: 0})
		openIdxs := make([]int, 0, len(d.openToolIdxs))
		for idx := range d.openToolIdxs {
			openIdxs = append(openIdxs, idx)
		}
		sort.Ints(openIdxs)
		for _, idx := range openIdxs {
			events = append(events, ContentBlockStop{Index: idx})
		}
		stopReason := StopEndTurn
		if choice.FinishReason == openai.FinishReasonToolCalls {
			stopReason = StopToolUse
		}
		events = append(events, MessageDelta{StopReason: stopReason, OutputTokens: outputTokens})
	}

	return events, nil
}
