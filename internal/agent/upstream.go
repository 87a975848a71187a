package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"skill-forge/internal/protocol"
)

// upstreamEvent is one decoded line of the agent's stream-json output.
// Every decoded line maps to exactly one variant; shapes the adapter does
// not understand become upstreamUnknown.
type upstreamEvent interface {
	upstreamType() string
}

type textDelta struct {
	Text string
}

type toolStart struct {
	ID   string
	Name string
}

type assistantTurn struct {
	Text    string
	Actions []protocol.Action
}

type turnResult struct {
	protocol.ResultPayload
}

type upstreamUnknown struct {
	Type    string
	Subtype string
}

func (textDelta) upstreamType() string { return "stream_event/text_delta" }
func (toolStart) upstreamType() string { return "stream_event/tool_use" }
func (assistantTurn) upstreamType() string { return "assistant" }
func (turnResult) upstreamType() string { return "result" }
func (u upstreamUnknown) upstreamType() string {
	if u.Subtype != "" {
		return u.Type + "/" + u.Subtype
	}
	return u.Type
}

// Wire shapes of the agent's output lines.

type rawLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Event   json.RawMessage `json:"event"`
	Message json.RawMessage `json:"message"`

	// result fields
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

type rawStreamEvent struct {
	Type         string `json:"type"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type rawAssistant struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
}

// decodeLine parses one output line. Only malformed JSON is an error.
func decodeLine(line []byte) (upstreamEvent, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("decode line: %w", err)
	}

	switch raw.Type {
	case "stream_event":
		return decodeStreamEvent(raw)
	case "assistant":
		return decodeAssistant(raw)
	case "result":
		return turnResult{protocol.ResultPayload{
			Subtype:    raw.Subtype,
			IsError:    raw.IsError,
			Result:     raw.Result,
			CostUSD:    raw.TotalCostUSD,
			DurationMS: raw.DurationMS,
			NumTurns:   raw.NumTurns,
		}}, nil
	}
	return upstreamUnknown{Type: raw.Type, Subtype: raw.Subtype}, nil
}

func decodeStreamEvent(raw rawLine) (upstreamEvent, error) {
	if len(raw.Event) == 0 {
		return upstreamUnknown{Type: raw.Type}, nil
	}
	var se rawStreamEvent
	if err := json.Unmarshal(raw.Event, &se); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	switch {
	case se.Type == "content_block_delta" && se.Delta.Type == "text_delta":
		return textDelta{Text: se.Delta.Text}, nil
	case se.Type == "content_block_start" && se.ContentBlock.Type == "tool_use":
		return toolStart{ID: se.ContentBlock.ID, Name: se.ContentBlock.Name}, nil
	}
	return upstreamUnknown{Type: raw.Type, Subtype: se.Type}, nil
}

func decodeAssistant(raw rawLine) (upstreamEvent, error) {
	var msg rawAssistant
	if len(raw.Message) > 0 {
		if err := json.Unmarshal(raw.Message, &msg); err != nil {
			return nil, fmt.Errorf("decode assistant message: %w", err)
		}
	}

	var text strings.Builder
	turn := assistantTurn{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			turn.Actions = append(turn.Actions, protocol.Action{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	turn.Text = text.String()
	return turn, nil
}

// translator maps upstream events onto the stream alphabet. It accumulates
// deltas and tool starts so an assistant message without content blocks
// still carries the turn's output.
type translator struct {
	text    strings.Builder
	actions []protocol.Action
}

func (t *translator) translate(ev upstreamEvent) []*protocol.Message {
	switch ev := ev.(type) {
	case textDelta:
		if ev.Text == "" {
			return nil
		}
		t.text.WriteString(ev.Text)
		return []*protocol.Message{protocol.MustMessage(protocol.TypeText, protocol.TextPayload{Text: ev.Text})}

	case toolStart:
		t.actions = append(t.actions, protocol.Action{ID: ev.ID, Name: ev.Name})
		return []*protocol.Message{protocol.MustMessage(protocol.TypeToolStart, protocol.ToolStartPayload{
			ID:   ev.ID,
			Name: ev.Name,
		})}

	case assistantTurn:
		payload := protocol.AssistantPayload{Text: ev.Text, Actions: ev.Actions}
		if payload.Text == "" && len(payload.Actions) == 0 {
			payload.Text = t.text.String()
			payload.Actions = t.actions
		}
		if payload.Actions == nil {
			payload.Actions = []protocol.Action{}
		}
		t.reset()
		return []*protocol.Message{protocol.MustMessage(protocol.TypeAssistant, payload)}

	case turnResult:
		t.reset()
		return []*protocol.Message{protocol.MustMessage(protocol.TypeResult, ev.ResultPayload)}
	}
	return nil
}

func (t *translator) reset() {
	t.text.Reset()
	t.actions = nil
}
