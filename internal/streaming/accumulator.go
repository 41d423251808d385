package streaming

import (
	"encoding/json"
	"sort"
	"strings"
)

// ContentBlock is one finished block of accumulated message content.
type ContentBlock struct {
	Type     BlockType
	Text     string
	ToolID   string
	ToolName string
	ToolArgs map[string]any
}

// Message is the fully accumulated result of a stream: its content
// blocks in index order plus the message-level metadata gathered along
// the way.
type Message struct {
	ID           string
	InputTokens  int
	OutputTokens int
	StopReason   string
	Blocks       []ContentBlock
}

type openBlock struct {
	blockType BlockType
	toolID    string
	toolName  string
	text      strings.Builder
	argsJSON  strings.Builder
}

// Accumulator folds a sequence of unified Events into a Message. It
// tracks at most one open block per index, closing each on
// ContentBlockStop and appending it to the finished list at that point,
// so finished blocks are in the order they were closed.
type Accumulator struct {
	msg  Message
	open map[int]*openBlock
}

// NewAccumulator constructs an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{open: make(map[int]*openBlock)}
}

// Apply folds one event into the accumulator's state.
func (a *Accumulator) Apply(ev Event) {
	switch e := ev.(type) {
	case MessageStart:
		a.msg.ID = e.ID
		a.msg.InputTokens = e.InputTokens

	case ContentBlockStart:
		a.open[e.Index] = &openBlock{blockType: e.BlockType, toolID: e.ToolID, toolName: e.ToolName}

	case TextDelta:
		if ob, ok := a.open[e.Index]; ok {
			ob.text.WriteString(e.Text)
		}

	case InputJSONDelta:
		if ob, ok := a.open[e.Index]; ok {
			ob.argsJSON.WriteString(e.PartialJSON)
		}

	case ContentBlockStop:
		if ob, ok := a.open[e.Index]; ok {
			a.msg.Blocks = append(a.msg.Blocks, finalizeBlock(ob))
			delete(a.open, e.Index)
		}

	case MessageDelta:
		a.msg.StopReason = e.StopReason
		a.msg.OutputTokens = e.OutputTokens

	case MessageStop, Ping, StreamError:
		// No accumulator state to update; callers inspect these directly
		// from the event stream if they need to react to them.
	}
}

// Finish closes any blocks the stream left open (a truncated or
// malformed stream) and returns the accumulated message. Blocks closed
// by ContentBlockStop come first, in closing order, followed by the
// blocks left open, in ascending index order.
func (a *Accumulator) Finish() Message {
	remaining := make([]int, 0, len(a.open))
	for idx := range a.open {
		remaining = append(remaining, idx)
	}
	sort.Ints(remaining)
	for _, idx := range remaining {
		a.msg.Blocks = append(a.msg.Blocks, finalizeBlock(a.open[idx]))
		delete(a.open, idx)
	}
	return a.msg
}

func finalizeBlock(ob *openBlock) ContentBlock {
	block := ContentBlock{Type: ob.blockType, ToolID: ob.toolID, ToolName: ob.toolName}
	if ob.blockType == BlockToolUse {
		args := map[string]any{}
		raw := ob.argsJSON.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{}
			}
		}
		block.ToolArgs = args
	} else {
		block.Text = ob.text.String()
	}
	return block
}
