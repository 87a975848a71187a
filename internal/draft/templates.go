package draft

import (
	"encoding/json"
	"fmt"
	"path"
)

const skillTemplate = `---
name: %s
description: Describe what this skill does and when Claude should use it.
version: 0.1.0
---

# %s

## Instructions

Step-by-step guidance for Claude goes here.
`

type manifest struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Author      manifestAuthor `json:"author"`
}

type manifestAuthor struct {
	Name string `json:"name"`
}

// skeleton returns the initial files for a new draft keyed by relative path.
func skeleton(kind Kind, name string) (map[string][]byte, error) {
	files := make(map[string][]byte)

	switch kind {
	case KindSkill:
		files[SkillFile] = []byte(fmt.Sprintf(skillTemplate, name, name))

	case KindPlugin:
		data, err := json.MarshalIndent(manifest{
			Name:    name,
			Version: "0.1.0",
		}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal manifest: %w", err)
		}
		files[ManifestPath] = append(data, '\n')
		files[path.Join("skills", name, SkillFile)] = []byte(fmt.Sprintf(skillTemplate, name, name))

	default:
		return nil, fmt.Errorf("unknown draft kind: %q", kind)
	}

	return files, nil
}
