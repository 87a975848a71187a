package validate

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"skill-forge/internal/draft"
)

var semver = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

func checkPlugin(fsys fs.FS, dirName string, r *Result) {
	checkManifest(fsys, dirName, r)

	skills, err := doublestar.Glob(fsys, "skills/*/"+draft.SkillFile)
	if err != nil {
		r.errorf("skills/", "", "cannot search for skills: "+err.Error())
		return
	}
	if len(skills) == 0 {
		r.errorf("skills/", "", "plugin must contain at least one skill at skills/<name>/SKILL.md")
		return
	}
	sort.Strings(skills)
	for _, rel := range skills {
		checkSkillFile(fsys, rel, r)
	}
}

func checkManifest(fsys fs.FS, dirName string, r *Result) {
	const file = draft.ManifestPath

	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		r.errorf(file, "", "cannot read manifest: "+err.Error())
		return
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		r.errorf(file, "", "manifest is not valid JSON: "+err.Error())
		return
	}
	if m == nil {
		r.errorf(file, "", "manifest must be a JSON object")
		return
	}

	name, _ := stringField(m, "name")
	switch {
	case name == "":
		r.errorf(file, "name", "name is required")
	case name != dirName:
		r.warnf(file, "name", fmt.Sprintf("name %q differs from the draft directory %q", name, dirName))
	}

	version, present := m["version"]
	switch v := version.(type) {
	case string:
		if v == "" {
			r.errorf(file, "version", "version is required")
		} else if !semver.MatchString(v) {
			r.errorf(file, "version", fmt.Sprintf("version %q must be in major.minor.patch form", v))
		}
	default:
		if !present || v == nil {
			r.errorf(file, "version", "version is required")
		} else {
			r.errorf(file, "version", "version must be a string in major.minor.patch form")
		}
	}

	desc, present := m["description"]
	switch v := desc.(type) {
	case string:
		if trim(v) == "" {
			r.warnf(file, "description", "description is empty")
		}
	default:
		if !present {
			r.errorf(file, "description", "description is required")
		} else if v == nil {
			r.warnf(file, "description", "description is empty")
		} else {
			r.errorf(file, "description", "description must be a string")
		}
	}
}
