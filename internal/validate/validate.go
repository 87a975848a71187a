// Package validate checks a draft directory against the structural rules of
// skills and plugins. Validation never fails as a whole: every problem is
// reported as an issue against the file that caused it.
package validate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"skill-forge/internal/draft"
)

// MinDescriptionLength is the shortest skill description that does not warn.
const MinDescriptionLength = 20

// Issue is one validation error or warning.
type Issue struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of validating a draft.
type Result struct {
	Valid    bool       `json:"valid"`
	Kind     draft.Kind `json:"kind"`
	Errors   []Issue    `json:"errors"`
	Warnings []Issue    `json:"warnings"`
}

func (r *Result) errorf(file, field, msg string) {
	r.Errors = append(r.Errors, Issue{File: file, Field: field, Message: msg})
}

func (r *Result) warnf(file, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{File: file, Field: field, Message: msg})
}

// Validate inspects the draft at dir. The draft kind is plugin when a
// manifest exists and skill otherwise.
func Validate(dir string) *Result {
	r := &Result{
		Kind:     draft.KindSkill,
		Errors:   []Issue{},
		Warnings: []Issue{},
	}
	fsys := os.DirFS(dir)

	if _, err := fs.Stat(fsys, draft.ManifestPath); err == nil {
		r.Kind = draft.KindPlugin
		checkPlugin(fsys, filepath.Base(dir), r)
	} else {
		checkStandaloneSkill(fsys, r)
	}

	checkCommands(fsys, r)
	checkAgents(fsys, r)
	checkHooks(fsys, r)

	r.Valid = len(r.Errors) == 0
	return r
}

// checkStandaloneSkill requires exactly one definition file at the root.
func checkStandaloneSkill(fsys fs.FS, r *Result) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		r.errorf(".", "", "cannot read draft directory: "+err.Error())
		return
	}

	var defs []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), draft.SkillFile) {
			defs = append(defs, e.Name())
		}
	}

	switch len(defs) {
	case 0:
		r.errorf(draft.SkillFile, "", "missing SKILL.md at the draft root")
	case 1:
		checkSkillFile(fsys, defs[0], r)
	default:
		r.errorf(defs[1], "", "expected exactly one SKILL.md at the draft root, found "+strings.Join(defs, ", "))
	}
}

// checkSkillFile applies the per-file skill header rules.
func checkSkillFile(fsys fs.FS, rel string, r *Result) {
	header, ok := readHeader(fsys, rel, r)
	if !ok {
		return
	}

	if name, _ := stringField(header, "name"); name == "" {
		r.errorf(rel, "name", "name is required")
	}

	desc, _ := stringField(header, "description")
	switch {
	case desc == "":
		r.errorf(rel, "description", "description is required")
	case len([]rune(desc)) < MinDescriptionLength:
		r.warnf(rel, "description", "description is very short; describe what the skill does and when to use it")
	}

	if _, present := header["version"]; !present {
		r.warnf(rel, "version", "version is not set")
	}

	checkCredentials(header, rel, r)
}

// readHeader loads a file and parses its header block. Failures are
// recorded against the file and reported as !ok.
func readHeader(fsys fs.FS, rel string, r *Result) (map[string]interface{}, bool) {
	data, err := fs.ReadFile(fsys, rel)
	if err != nil {
		r.errorf(rel, "", "cannot read file: "+err.Error())
		return nil, false
	}
	header, err := parseHeader(data)
	if err != nil {
		r.errorf(rel, "", err.Error())
		return nil, false
	}
	return header, true
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
