// Package draft implements the on-disk staging area where skills and plugins
// are authored before promotion. Each draft is one directory holding the
// artifact's files plus a metadata file.
package draft

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind distinguishes standalone skills from full plugins.
type Kind string

const (
	KindSkill  Kind = "skill"
	KindPlugin Kind = "plugin"
)

// ParseKind converts a client-supplied kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSkill, KindPlugin:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown draft kind: %q", s)
}

// Status is the authoring status of a draft. Transitions are monotonic:
// incomplete → in_progress → complete|incomplete → promoted.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusPromoted   Status = "promoted"
)

const (
	// MetaFile is the draft metadata file. It is never listed or promoted.
	MetaFile = ".draft.json"
	// ManifestPath is the plugin manifest location relative to the draft root.
	ManifestPath = ".claude-plugin/plugin.json"
	// SkillFile is the skill definition file name.
	SkillFile = "SKILL.md"
)

// Draft is a staged, not-yet-installed skill or plugin.
type Draft struct {
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	SessionID    string     `json:"sessionId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	PromotedAt   *time.Time `json:"promotedAt,omitempty"`
	PromotedName string     `json:"promotedName,omitempty"`
	// Legacy is set for drafts without a metadata file.
	Legacy bool `json:"legacy,omitempty"`
}

// meta is the persisted form of a draft.
type meta struct {
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	SessionID    string     `json:"sessionId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	PromotedAt   *time.Time `json:"promotedAt,omitempty"`
	PromotedName string     `json:"promotedName,omitempty"`
}

// FileType is the entry kind of a listed draft file.
type FileType string

const (
	TypeFile      FileType = "file"
	TypeDirectory FileType = "directory"
)

// File is one entry of a draft listing. Path is relative to the draft root
// and always uses forward slashes.
type File struct {
	Path string   `json:"path"`
	Type FileType `json:"type"`
	Size int64    `json:"size,omitempty"`
}

// FileContent is the result of reading a draft file. Binary files carry only
// their size.
type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Binary  bool   `json:"binary,omitempty"`
	Size    int64  `json:"size"`
}

// UploadFile is one file of an upload batch.
type UploadFile struct {
	Name   string
	Size   int64
	Reader io.Reader
}

var (
	ErrNotFound    = errors.New("draft not found")
	ErrExists      = errors.New("draft already exists")
	ErrInvalidName = errors.New("invalid draft name")
	ErrPathEscape  = errors.New("path escapes draft directory")
	ErrIsDirectory = errors.New("path is a directory")
)

// UploadTooLargeError rejects an upload batch at the first oversize file.
type UploadTooLargeError struct {
	File  string
	Size  int64
	Limit int64
}

func (e *UploadTooLargeError) Error() string {
	return fmt.Sprintf("file %q exceeds the %s upload limit", e.File, humanize.IBytes(uint64(e.Limit)))
}
