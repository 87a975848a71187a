package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skill-forge/internal/draft"
)

const goodSkill = `---
name: pdf-tools
description: Extract text and tables from PDF documents.
version: 1.0.0
---

# PDF tools
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "my-plugin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func pluginTree(manifest string) map[string]string {
	return map[string]string{
		draft.ManifestPath:          manifest,
		"skills/pdf-tools/SKILL.md": goodSkill,
	}
}

func TestValidate_ScaffoldedSkillHasNoErrors(t *testing.T) {
	store, err := draft.NewStore(t.TempDir(), 0)
	require.NoError(t, err)
	d, err := store.Scaffold(draft.KindSkill, "")
	require.NoError(t, err)

	r := Validate(d.Path)
	assert.True(t, r.Valid)
	assert.Equal(t, draft.KindSkill, r.Kind)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestValidate_ScaffoldedPluginWarnsOnEmptyDescription(t *testing.T) {
	store, err := draft.NewStore(t.TempDir(), 0)
	require.NoError(t, err)
	d, err := store.Scaffold(draft.KindPlugin, "")
	require.NoError(t, err)

	r := Validate(d.Path)
	assert.True(t, r.Valid)
	assert.Equal(t, draft.KindPlugin, r.Kind)
	assert.Empty(t, r.Errors)
	want := []Issue{{File: draft.ManifestPath, Field: "description", Message: "description is empty"}}
	if diff := cmp.Diff(want, r.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_SkillWithoutHeader(t *testing.T) {
	dir := writeTree(t, map[string]string{"SKILL.md": "# Just markdown\n\nNo header here.\n"})

	r := Validate(dir)
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "SKILL.md", r.Errors[0].File)
	assert.Equal(t, "", r.Errors[0].Field)
}

func TestValidate_SkillMissingDefinition(t *testing.T) {
	dir := writeTree(t, map[string]string{"README.md": "hello"})

	r := Validate(dir)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "SKILL.md", r.Errors[0].File)
}

func TestValidate_SkillFields(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:    "complete",
			content: goodSkill,
		},
		{
			name:       "missing name and description",
			content:    "---\nversion: 1.0.0\n---\nbody\n",
			wantErrors: []string{"name", "description"},
		},
		{
			name:         "short description and no version",
			content:      "---\nname: x\ndescription: too short\n---\n",
			wantWarnings: []string{"description", "version"},
		},
		{
			name:         "empty header",
			content:      "---\n---\nbody\n",
			wantErrors:   []string{"name", "description"},
			wantWarnings: []string{"version"},
		},
		{
			name:       "unterminated header",
			content:    "---\nname: x\n",
			wantErrors: []string{""},
		},
		{
			name:       "invalid yaml",
			content:    "---\nname: [unclosed\n---\n",
			wantErrors: []string{""},
		},
		{
			name:       "scalar header",
			content:    "---\njust a string\n---\n",
			wantErrors: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeTree(t, map[string]string{"SKILL.md": tt.content})
			r := Validate(dir)

			assert.Equal(t, tt.wantErrors, fields(r.Errors))
			assert.Equal(t, tt.wantWarnings, fields(r.Warnings))
			assert.Equal(t, len(tt.wantErrors) == 0, r.Valid)
		})
	}
}

func TestValidate_PluginVersion(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		wantErrors int
	}{
		{"missing", `{"name":"my-plugin","description":"d"}`, 1},
		{"two part", `{"name":"my-plugin","version":"1.0","description":"d"}`, 1},
		{"numeric", `{"name":"my-plugin","version":1,"description":"d"}`, 1},
		{"prerelease", `{"name":"my-plugin","version":"1.0.0-beta","description":"d"}`, 1},
		{"valid", `{"name":"my-plugin","version":"1.0.0","description":"d"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(writeTree(t, pluginTree(tt.manifest)))
			require.Len(t, r.Errors, tt.wantErrors)
			for _, issue := range r.Errors {
				assert.Equal(t, draft.ManifestPath, issue.File)
				assert.Equal(t, "version", issue.Field)
			}
			assert.Empty(t, r.Warnings)
		})
	}
}

func TestValidate_PluginManifestFields(t *testing.T) {
	r := Validate(writeTree(t, pluginTree(`{"version":"1.0.0"}`)))
	assert.Equal(t, []string{"name", "description"}, fields(r.Errors))

	r = Validate(writeTree(t, pluginTree(`{"name":"other","version":"1.0.0","description":"d"}`)))
	assert.Empty(t, r.Errors)
	assert.Equal(t, []string{"name"}, fields(r.Warnings))

	r = Validate(writeTree(t, pluginTree(`{"name":"my-plugin","version":"1.0.0","description":"   "}`)))
	assert.Empty(t, r.Errors)
	assert.Equal(t, []string{"description"}, fields(r.Warnings))
}

func TestValidate_PluginManifestUnparseable(t *testing.T) {
	files := pluginTree(`{not json`)
	files["skills/broken/SKILL.md"] = "no header"

	r := Validate(writeTree(t, files))
	require.Len(t, r.Errors, 2)
	assert.Equal(t, draft.ManifestPath, r.Errors[0].File)
	assert.Equal(t, "skills/broken/SKILL.md", r.Errors[1].File)
}

func TestValidate_PluginRequiresSkill(t *testing.T) {
	dir := writeTree(t, map[string]string{
		draft.ManifestPath: `{"name":"my-plugin","version":"1.0.0","description":"d"}`,
	})
	r := Validate(dir)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "skills/", r.Errors[0].File)
}

func TestValidate_Credentials(t *testing.T) {
	skill := `---
name: api
description: Calls the weather API for forecasts.
version: 1.0.0
credentials:
  - key: WEATHER_KEY
    label: Weather API key
  - key: MISSING_LABEL
  - label: Missing key
  - {}
---
`
	r := Validate(writeTree(t, map[string]string{"SKILL.md": skill}))
	assert.Equal(t, []string{
		"credentials[1].label",
		"credentials[2].key",
		"credentials[3].key",
		"credentials[3].label",
	}, fields(r.Errors))
}

func TestValidate_CommandsAndAgents(t *testing.T) {
	files := pluginTree(`{"name":"my-plugin","version":"1.0.0","description":"d"}`)
	files["commands/deploy.md"] = "---\nname: deploy\n---\nDeploy it.\n"
	files["commands/nested/no-name.md"] = "---\ndescription: x\n---\n"
	files["commands/raw.md"] = "no header"
	files["agents/reviewer.md"] = "---\nname: reviewer\n---\n"

	r := Validate(writeTree(t, files))

	got := make(map[string][]string)
	for _, issue := range r.Errors {
		got[issue.File] = append(got[issue.File], issue.Field)
	}
	assert.Equal(t, map[string][]string{
		"commands/nested/no-name.md": {"name"},
		"commands/raw.md":            {""},
		"agents/reviewer.md":         {"description"},
	}, got)
}

func TestValidate_Hooks(t *testing.T) {
	tests := []struct {
		name         string
		hooks        string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:  "valid",
			hooks: `{"hooks":{"PostToolUse":[{"matcher":"Write","hooks":[{"type":"command","command":"echo"}]}]}}`,
		},
		{
			name:         "unknown event",
			hooks:        `{"hooks":{"PostToolUse":[],"OnSave":[]}}`,
			wantWarnings: []string{"hooks.OnSave"},
		},
		{
			name:       "empty table",
			hooks:      `{"hooks":{}}`,
			wantErrors: []string{"hooks"},
		},
		{
			name:       "missing table",
			hooks:      `{"description":"x"}`,
			wantErrors: []string{"hooks"},
		},
		{
			name:       "not json",
			hooks:      `hooks:`,
			wantErrors: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := map[string]string{"SKILL.md": goodSkill, "hooks/hooks.json": tt.hooks}
			r := Validate(writeTree(t, files))
			assert.Equal(t, tt.wantErrors, fields(r.Errors))
			assert.Equal(t, tt.wantWarnings, fields(r.Warnings))
		})
	}
}

func TestValidate_NotCached(t *testing.T) {
	dir := writeTree(t, map[string]string{"SKILL.md": "no header"})
	assert.False(t, Validate(dir).Valid)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(goodSkill), 0o644))
	assert.True(t, Validate(dir).Valid)
}

// fields returns the Field of each issue, or nil when there are none.
func fields(issues []Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Field
	}
	return out
}
