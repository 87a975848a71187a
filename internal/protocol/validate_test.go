package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeDraftCreated, DraftCreatedPayload{
		Name: "draft-01",
		Path: "/tmp/draft-01",
		Kind: KindPlugin,
	})
	require.NoError(t, err)

	assert.Equal(t, TypeDraftCreated, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var p DraftCreatedPayload
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, "draft-01", p.Name)
	assert.Equal(t, KindPlugin, p.Kind)
}

func TestNewMessage_Unmarshalable(t *testing.T) {
	_, err := NewMessage(TypeText, make(chan int))
	assert.Error(t, err)
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage(ErrSpawnFailed, "claude not found")
	assert.Equal(t, TypeError, msg.Type)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, ErrSpawnFailed, p.Code)
	assert.Equal(t, "claude not found", p.Message)
}

func TestAssistantPayload_EmptyActionsEncodeAsArray(t *testing.T) {
	msg := MustMessage(TypeAssistant, AssistantPayload{Text: "hi", Actions: []Action{}})
	assert.JSONEq(t, `{"text":"hi","actions":[]}`, string(msg.Payload))
}

func TestParseChatRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"sessionId":"abc","message":"make a skill"}`, false},
		{"valid with kind", `{"sessionId":"abc","message":"hi","kind":"skill"}`, false},
		{"invalid json", `not json`, true},
		{"missing session", `{"message":"hi"}`, true},
		{"missing message", `{"sessionId":"abc"}`, true},
		{"unknown kind", `{"sessionId":"abc","message":"hi","kind":"theme"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseChatRequest([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "abc", req.SessionID)
		})
	}
}

func TestParseNewDraftRequest_DefaultsToPlugin(t *testing.T) {
	req, err := ParseNewDraftRequest(nil)
	require.NoError(t, err)
	assert.Equal(t, KindPlugin, req.Kind)

	req, err = ParseNewDraftRequest([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, KindPlugin, req.Kind)

	req, err = ParseNewDraftRequest([]byte(`{"kind":"skill"}`))
	require.NoError(t, err)
	assert.Equal(t, KindSkill, req.Kind)

	_, err = ParseNewDraftRequest([]byte(`{"kind":"bogus"}`))
	assert.Error(t, err)
}

func TestParseWriteFileRequest(t *testing.T) {
	req, err := ParseWriteFileRequest([]byte(`{"path":"SKILL.md","content":""}`))
	require.NoError(t, err)
	assert.Equal(t, "SKILL.md", req.Path)
	require.NotNil(t, req.Content)
	assert.Equal(t, "", *req.Content)

	_, err = ParseWriteFileRequest([]byte(`{"path":"SKILL.md"}`))
	assert.Error(t, err)

	_, err = ParseWriteFileRequest([]byte(`{"content":"x"}`))
	assert.Error(t, err)
}
