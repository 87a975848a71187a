package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skill-forge/internal/protocol"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want upstreamEvent
	}{
		{
			name: "text delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}`,
			want: textDelta{Text: "Hel"},
		},
		{
			name: "tool start",
			line: `{"type":"stream_event","event":{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"Write","input":{}}}}`,
			want: toolStart{ID: "toolu_1", Name: "Write"},
		},
		{
			name: "text block start",
			line: `{"type":"stream_event","event":{"type":"content_block_start","content_block":{"type":"text","text":""}}}`,
			want: upstreamUnknown{Type: "stream_event", Subtype: "content_block_start"},
		},
		{
			name: "input json delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}}`,
			want: upstreamUnknown{Type: "stream_event", Subtype: "content_block_delta"},
		},
		{
			name: "assistant",
			line: `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Creating "},{"type":"tool_use","id":"toolu_2","name":"Edit","input":{"file_path":"SKILL.md"}},{"type":"text","text":"the skill."}]}}`,
			want: assistantTurn{
				Text: "Creating the skill.",
				Actions: []protocol.Action{
					{ID: "toolu_2", Name: "Edit", Input: json.RawMessage(`{"file_path":"SKILL.md"}`)},
				},
			},
		},
		{
			name: "result",
			line: `{"type":"result","subtype":"success","is_error":false,"duration_ms":1234,"num_turns":3,"result":"Done","total_cost_usd":0.0421}`,
			want: turnResult{protocol.ResultPayload{
				Subtype:    "success",
				Result:     "Done",
				CostUSD:    0.0421,
				DurationMS: 1234,
				NumTurns:   3,
			}},
		},
		{
			name: "system init",
			line: `{"type":"system","subtype":"init","session_id":"abc","tools":["Read"]}`,
			want: upstreamUnknown{Type: "system", Subtype: "init"},
		},
		{
			name: "user tool result",
			line: `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_2"}]}}`,
			want: upstreamUnknown{Type: "user"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLine_Malformed(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"type":"assistant","message":"oops"}`,
		`{"type":"stream_event","event":[1,2]}`,
		`{"type":"result"`,
	} {
		_, err := decodeLine([]byte(line))
		assert.Error(t, err, line)
	}
}

func TestTranslator(t *testing.T) {
	var tr translator

	msgs := tr.translate(textDelta{Text: "Hi "})
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeText, msgs[0].Type)
	assert.JSONEq(t, `{"text":"Hi "}`, string(msgs[0].Payload))

	assert.Empty(t, tr.translate(textDelta{}))

	msgs = tr.translate(toolStart{ID: "t1", Name: "Bash"})
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeToolStart, msgs[0].Type)
	assert.JSONEq(t, `{"id":"t1","name":"Bash"}`, string(msgs[0].Payload))

	// An empty assistant message falls back to what was accumulated.
	msgs = tr.translate(assistantTurn{})
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeAssistant, msgs[0].Type)
	assert.JSONEq(t, `{"text":"Hi ","actions":[{"id":"t1","name":"Bash"}]}`, string(msgs[0].Payload))

	// The accumulator resets per assistant message.
	msgs = tr.translate(assistantTurn{})
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"text":"","actions":[]}`, string(msgs[0].Payload))

	msgs = tr.translate(turnResult{protocol.ResultPayload{Subtype: "error_max_turns", IsError: true}})
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeResult, msgs[0].Type)
	var res protocol.ResultPayload
	require.NoError(t, msgs[0].Decode(&res))
	assert.True(t, res.IsError)

	assert.Empty(t, tr.translate(upstreamUnknown{Type: "system"}))
}
