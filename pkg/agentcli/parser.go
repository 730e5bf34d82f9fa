package agentcli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event types emitted on the agent CLI's --json stream.
const (
	EventThreadStarted = "thread.started"
	EventItemStarted   = "item.started"
	EventItemCompleted = "item.completed"
	EventTurnCompleted = "turn.completed"
	EventError         = "error"
)

// ItemAgentMessage is the item type carrying prose addressed to the caller.
const ItemAgentMessage = "agent_message"

// StreamEvent is one parsed line of the agent's NDJSON event stream.
type StreamEvent struct {
	// Type is the event type (e.g., "thread.started", "item.completed").
	Type string `json:"type"`

	// ThreadID identifies the session (for type="thread.started").
	ThreadID string `json:"thread_id,omitempty"`

	// Item carries per-item payload (for item.* events).
	Item *Item `json:"item,omitempty"`

	// Message contains error details (for type="error").
	Message string `json:"message,omitempty"`

	// Raw is the raw JSON line for debugging.
	Raw string `json:"-"`
}

// Item is the payload of an item.* event.
type Item struct {
	ID   string   `json:"id,omitempty"`
	Type string   `json:"type"`
	Text FlexText `json:"text,omitempty"`
}

// FlexText unmarshals a field that some CLI versions emit as a string and
// others as an array of strings.
type FlexText string

func (t *FlexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = FlexText(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("text is neither string nor array: %w", err)
	}
	*t = FlexText(strings.Join(parts, ""))
	return nil
}

func (t FlexText) String() string {
	return string(t)
}

// StreamParser parses the agent CLI's NDJSON event stream line by line.
type StreamParser struct {
	onEvent   func(StreamEvent)
	onError   func(error)
	lineCount int
}

// NewStreamParser creates a parser with event callbacks. Either callback
// may be nil.
func NewStreamParser(onEvent func(StreamEvent), onError func(error)) *StreamParser {
	return &StreamParser{
		onEvent: onEvent,
		onError: onError,
	}
}

// ParseLine parses a single line of the event stream. Blank lines and lines
// that are not JSON objects are skipped; malformed lines are reported via
// the error callback and never abort the stream.
func (p *StreamParser) ParseLine(line string) *StreamEvent {
	p.lineCount++
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var event StreamEvent
	event.Raw = line

	if err := json.Unmarshal([]byte(line), &event); err != nil {
		// Salvage the type if the payload is the problem.
		var typeOnly struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(line), &typeOnly) == nil && typeOnly.Type != "" {
			event.Type = typeOnly.Type
		} else {
			if p.onError != nil {
				p.onError(err)
			}
			return nil
		}
	}

	if p.onEvent != nil {
		p.onEvent(event)
	}

	return &event
}

// ParseReader reads and parses NDJSON events until the reader is exhausted.
func (p *StreamParser) ParseReader(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Event lines can carry whole file contents.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		p.ParseLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// LineCount returns the number of lines seen so far.
func (p *StreamParser) LineCount() int {
	return p.lineCount
}

// Collector folds a stream of events into the two facts the caller needs:
// the session's thread id and the agent's final message.
type Collector struct {
	threadID string
	message  string
	messages int
}

// Observe folds one event into the collector. The first thread id wins;
// the last completed agent_message wins.
func (c *Collector) Observe(ev StreamEvent) {
	switch ev.Type {
	case EventThreadStarted:
		if c.threadID == "" && ev.ThreadID != "" {
			c.threadID = ev.ThreadID
		}
	case EventItemCompleted:
		if ev.Item != nil && ev.Item.Type == ItemAgentMessage {
			c.message = ev.Item.Text.String()
			c.messages++
		}
	}
}

// ThreadID returns the captured session id, or "" if none was seen.
func (c *Collector) ThreadID() string {
	return c.threadID
}

// Message returns the last completed agent message.
func (c *Collector) Message() string {
	return c.message
}

// Responded reports whether at least one agent message completed.
func (c *Collector) Responded() bool {
	return c.messages > 0
}
