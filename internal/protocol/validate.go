package protocol

import (
	"encoding/json"
	"fmt"
)

// Draft kinds accepted from clients.
const (
	KindSkill  = "skill"
	KindPlugin = "plugin"
)

// ChatRequest is the body of a chat message sent to a session.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	// Kind selects the scaffold used when the message starts a new process.
	Kind string `json:"kind,omitempty"`
	// Draft continues an existing draft instead of scaffolding a new one.
	Draft string `json:"draft,omitempty"`
}

// NewDraftRequest is the body of a scaffold request.
type NewDraftRequest struct {
	Kind string `json:"kind"`
}

// WriteFileRequest is the body of a draft file write.
type WriteFileRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

// ParseChatRequest validates a raw chat request body.
func ParseChatRequest(raw []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("missing required field 'sessionId'")
	}
	if req.Message == "" {
		return nil, fmt.Errorf("missing required field 'message'")
	}
	if req.Kind != "" && !validKind(req.Kind) {
		return nil, fmt.Errorf("unknown kind: %s", req.Kind)
	}
	return &req, nil
}

// ParseNewDraftRequest validates a raw scaffold request body. An empty body
// defaults to a plugin draft.
func ParseNewDraftRequest(raw []byte) (*NewDraftRequest, error) {
	req := NewDraftRequest{Kind: KindPlugin}
	if len(raw) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Kind == "" {
		req.Kind = KindPlugin
	}
	if !validKind(req.Kind) {
		return nil, fmt.Errorf("unknown kind: %s", req.Kind)
	}
	return &req, nil
}

// ParseWriteFileRequest validates a raw file write body. Empty content is
// allowed, a missing content field is not.
func ParseWriteFileRequest(raw []byte) (*WriteFileRequest, error) {
	var req WriteFileRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("missing required field 'path'")
	}
	if req.Content == nil {
		return nil, fmt.Errorf("missing required field 'content'")
	}
	return &req, nil
}

func validKind(kind string) bool {
	return kind == KindSkill || kind == KindPlugin
}
