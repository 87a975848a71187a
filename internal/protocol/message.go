package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for every event pushed over a stream channel.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// MustMessage is NewMessage for payloads that are known to marshal.
func MustMessage(msgType string, payload interface{}) *Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Stream event types.
const (
	TypeConnected    = "connected"
	TypeText         = "text"
	TypeToolStart    = "tool_start"
	TypeAssistant    = "assistant"
	TypeResult       = "result"
	TypeDraftCreated = "draft_created"
	TypeProcessExit  = "process_exit"
	TypeFilesChanged = "files_changed"
	TypeError        = "error"
)

// Error codes.
const (
	ErrSpawnFailed    = "SPAWN_FAILED"
	ErrProcessFailed  = "PROCESS_FAILED"
	ErrSessionTimeout = "SESSION_TIMEOUT"
	ErrWriteFailed    = "WRITE_FAILED"
)

type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ToolStartPayload struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Action is one tool invocation made during an assistant turn.
type Action struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type AssistantPayload struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

type ResultPayload struct {
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"isError"`
	Result     string  `json:"result,omitempty"`
	CostUSD    float64 `json:"costUsd"`
	DurationMS int64   `json:"durationMs"`
	NumTurns   int     `json:"numTurns"`
}

type DraftCreatedPayload struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type ProcessExitPayload struct {
	Code int `json:"code"`
}

type FilesChangedPayload struct {
	Draft     string `json:"draft"`
	FileCount int    `json:"fileCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewErrorMessage creates an error event ready to push to a channel.
func NewErrorMessage(code, message string) *Message {
	return MustMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
