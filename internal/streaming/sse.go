package streaming

import (
	"bufio"
	"strings"
)

// Frame is one event:/data: pair parsed out of a text/event-stream body.
// event is empty when the stream omits the event: line (OpenAI-compatible
// streams always omit it; data is still a full JSON payload per frame).
type Frame struct {
	Event string
	Data  string
}

// ScanFrames splits r into SSE frames, one per blank-line-terminated
// block. Lines are joined in the rare case a single data: field spans
// multiple lines (per the SSE spec, joined with "\n").
func ScanFrames(r *bufio.Reader) ([]Frame, error) {
	var frames []Frame
	var event strings.Builder
	var data strings.Builder
	haveData := false

	flush := func() {
		if haveData {
			frames = append(frames, Frame{Event: event.String(), Data: data.String()})
		}
		event.Reset()
		data.Reset()
		haveData = false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			if haveData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			haveData = true
		default:
			// Comment lines (":") and unrecognized fields are ignored.
		}
	}
	flush()
	return frames, scanner.Err()
}
