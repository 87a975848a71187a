package validate

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

const hooksFile = "hooks/hooks.json"

// knownHookEvents are the event names the agent runtime dispatches.
var knownHookEvents = map[string]bool{
	"PreToolUse":       true,
	"PostToolUse":      true,
	"Notification":     true,
	"UserPromptSubmit": true,
	"Stop":             true,
	"SubagentStop":     true,
	"PreCompact":       true,
	"SessionStart":     true,
	"SessionEnd":       true,
}

func checkCommands(fsys fs.FS, r *Result) {
	for _, rel := range globSorted(fsys, "commands/**/*.md", r) {
		header, ok := readHeader(fsys, rel, r)
		if !ok {
			continue
		}
		if name, _ := stringField(header, "name"); name == "" {
			r.errorf(rel, "name", "command name is required")
		}
		checkCredentials(header, rel, r)
	}
}

func checkAgents(fsys fs.FS, r *Result) {
	for _, rel := range globSorted(fsys, "agents/**/*.md", r) {
		header, ok := readHeader(fsys, rel, r)
		if !ok {
			continue
		}
		if name, _ := stringField(header, "name"); name == "" {
			r.errorf(rel, "name", "agent name is required")
		}
		if desc, _ := stringField(header, "description"); desc == "" {
			r.errorf(rel, "description", "agent description is required")
		}
		checkCredentials(header, rel, r)
	}
}

func checkHooks(fsys fs.FS, r *Result) {
	data, err := fs.ReadFile(fsys, hooksFile)
	if err != nil {
		if !isNotExist(err) {
			r.errorf(hooksFile, "", "cannot read hooks configuration: "+err.Error())
		}
		return
	}

	var cfg map[string]interface{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		r.errorf(hooksFile, "", "hooks configuration is not valid JSON: "+err.Error())
		return
	}

	table, ok := cfg["hooks"].(map[string]interface{})
	if !ok || len(table) == 0 {
		r.errorf(hooksFile, "hooks", "hooks must be a non-empty object keyed by event name")
		return
	}

	events := make([]string, 0, len(table))
	for event := range table {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		if !knownHookEvents[event] {
			r.warnf(hooksFile, "hooks."+event, fmt.Sprintf("unknown hook event %q", event))
		}
	}
}

// checkCredentials validates the credentials list of a header block.
func checkCredentials(header map[string]interface{}, rel string, r *Result) {
	raw, ok := header["credentials"]
	if !ok || raw == nil {
		return
	}
	list, ok := raw.([]interface{})
	if !ok {
		r.errorf(rel, "credentials", "credentials must be a list")
		return
	}

	for i, item := range list {
		field := fmt.Sprintf("credentials[%d]", i)
		entry, ok := item.(map[string]interface{})
		if !ok {
			r.errorf(rel, field, "credential must be a mapping with key and label")
			continue
		}
		if key, _ := stringField(entry, "key"); key == "" {
			r.errorf(rel, field+".key", "credential key is required")
		}
		if label, _ := stringField(entry, "label"); label == "" {
			r.errorf(rel, field+".label", "credential label is required")
		}
	}
}

func globSorted(fsys fs.FS, pattern string, r *Result) []string {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		r.errorf(pattern, "", "cannot search for files: "+err.Error())
		return nil
	}
	sort.Strings(matches)
	return matches
}
