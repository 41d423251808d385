package streaming

import "encoding/json"

// anthropicEnvelope mirrors the subset of Anthropic's public streaming
// JSON shape this parser needs. Each event:/data: pair maps to exactly
// one envelope and at most one StreamEvent — the Anthropic variant is
// stateless.
type anthropicEnvelope struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseAnthropicFrame maps one Anthropic SSE frame to its unified event.
// Frames whose type this parser does not recognize are skipped (nil, nil).
func ParseAnthropicFrame(frame Frame) (Event, error) {
	var env anthropicEnvelope
	if err := json.Unmarshal([]byte(frame.Data), &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "message_start":
		if env.Message == nil {
			return MessageStart{}, nil
		}
		return MessageStart{ID: env.Message.ID, InputTokens: env.Message.Usage.InputTokens}, nil

	case "content_block_start":
		if env.ContentBlock == nil {
			return nil, nil
		}
		if env.ContentBlock.Type == "tool_use" {
			return ContentBlockStart{Index: env.Index, BlockType: BlockToolUse, ToolID: env.ContentBlock.ID, ToolName: env.ContentBlock.Name}, nil
		}
		return ContentBlockStart{Index: env.Index, BlockType: BlockText}, nil

	case "content_block_delta":
		if env.Delta == nil {
			return nil, nil
		}
		switch env.Delta.Type {
		case "input_json_delta":
			return InputJSONDelta{Index: env.Index, PartialJSON: env.Delta.PartialJSON}, nil
		default:
			return TextDelta{Index: env.Index, Text: env.Delta.Text}, nil
		}

	case "content_block_stop":
		return ContentBlockStop{Index: env.Index}, nil

	case "message_delta":
		outputTokens := 0
		if env.Usage != nil {
			outputTokens = env.Usage.OutputTokens
		}
		stopReason := ""
		if env.Delta != nil {
			stopReason = env.Delta.StopReason
		}
		return MessageDelta{StopReason: stopReason, OutputTokens: outputTokens}, nil

	case "message_stop":
		return MessageStop{}, nil

	case "ping":
		return Ping{}, nil

	case "error":
		msg := ""
		if env.Error != nil {
			msg = env.Error.Message
		}
		return StreamError{Message: msg}, nil

	default:
		return nil, nil
	}
}
