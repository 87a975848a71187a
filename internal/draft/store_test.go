package draft

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), 1024)
	require.NoError(t, err)
	return s
}

func TestScaffold_Skill(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Scaffold(KindSkill, "sess-1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(d.Name, "draft-"))
	assert.Equal(t, KindSkill, d.Kind)
	assert.Equal(t, StatusIncomplete, d.Status)
	assert.Equal(t, "sess-1", d.SessionID)
	assert.FileExists(t, filepath.Join(d.Path, MetaFile))

	files, err := s.ListFiles(d.Name)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, File{Path: SkillFile, Type: TypeFile, Size: files[0].Size}, files[0])
}

func TestScaffold_Plugin(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Scaffold(KindPlugin, "")
	require.NoError(t, err)
	assert.Equal(t, KindPlugin, d.Kind)

	files, err := s.ListFiles(d.Name)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		".claude-plugin",
		".claude-plugin/plugin.json",
		"skills",
		"skills/" + d.Name,
		"skills/" + d.Name + "/SKILL.md",
	}, paths)

	fc, err := s.ReadFile(d.Name, ManifestPath)
	require.NoError(t, err)
	assert.Contains(t, fc.Content, `"name": "`+d.Name+`"`)
	assert.Contains(t, fc.Content, `"description": ""`)
}

func TestScaffold_UniqueNames(t *testing.T) {
	s := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		d, err := s.Scaffold(KindSkill, "")
		require.NoError(t, err)
		assert.False(t, seen[d.Name], "duplicate draft name %s", d.Name)
		seen[d.Name] = true
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("draft-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_InvalidName(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"", "..", "../etc", "a/b", ".hidden", "a b"} {
		_, err := s.Get(name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestList_IncludesLegacyDrafts(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	legacyDir := filepath.Join(s.Root(), "old-plugin")
	require.NoError(t, os.MkdirAll(filepath.Join(legacyDir, ".claude-plugin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, ManifestPath), []byte(`{"name":"old"}`), 0o644))

	legacySkill := filepath.Join(s.Root(), "old-skill")
	require.NoError(t, os.MkdirAll(legacySkill, 0o755))

	drafts, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	byName := make(map[string]*Draft)
	for _, dr := range drafts {
		byName[dr.Name] = dr
	}
	assert.False(t, byName[d.Name].Legacy)
	assert.True(t, byName["old-plugin"].Legacy)
	assert.Equal(t, KindPlugin, byName["old-plugin"].Kind)
	assert.Equal(t, KindSkill, byName["old-skill"].Kind)
	assert.Equal(t, StatusIncomplete, byName["old-skill"].Status)
}

func TestListFiles_ExcludesMetaAndStaysInside(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	if err := os.Symlink(outside, filepath.Join(d.Path, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, err := s.ListFiles(d.Name)
	require.NoError(t, err)
	for _, f := range files {
		assert.NotEqual(t, MetaFile, f.Path)
		assert.False(t, strings.Contains(f.Path, ".."))
		assert.NotContains(t, f.Path, "secret.txt")
	}
}

func TestSymlinkOutsideDraftIsRejected(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644))
	if err := os.Symlink(outside, filepath.Join(d.Path, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "gone.txt"), filepath.Join(d.Path, "dangling.txt")))
	require.NoError(t, os.Symlink(filepath.Join(d.Path, "SKILL.md"), filepath.Join(d.Path, "alias.md")))

	files, err := s.ListFiles(d.Name)
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.NotContains(t, paths, "link")
	assert.NotContains(t, paths, "dangling.txt")
	assert.Contains(t, paths, "alias.md")

	_, err = s.ReadFile(d.Name, "link/secret.txt")
	assert.ErrorIs(t, err, ErrPathEscape)

	err = s.WriteFile(d.Name, "link/new.md", "x")
	assert.ErrorIs(t, err, ErrPathEscape)
	assert.NoFileExists(t, filepath.Join(outside, "new.md"))

	err = s.WriteFile(d.Name, "dangling.txt", "x")
	assert.ErrorIs(t, err, ErrPathEscape)
	assert.NoFileExists(t, filepath.Join(outside, "gone.txt"))

	_, err = s.Upload(d.Name, "link", []UploadFile{{Name: "up.txt", Size: 1, Reader: strings.NewReader("a")}})
	assert.ErrorIs(t, err, ErrPathEscape)
	assert.NoFileExists(t, filepath.Join(outside, "up.txt"))

	_, err = s.Upload(d.Name, "", []UploadFile{{Name: "dangling.txt", Size: 1, Reader: strings.NewReader("a")}})
	assert.ErrorIs(t, err, ErrPathEscape)
	assert.NoFileExists(t, filepath.Join(outside, "gone.txt"))

	fc, err := s.ReadFile(d.Name, "alias.md")
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Content)
}

func TestReadFile_Binary(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(d.Path, "logo.PNG"), bytes.Repeat([]byte{0x89}, 42), 0o644))

	fc, err := s.ReadFile(d.Name, "logo.PNG")
	require.NoError(t, err)
	assert.True(t, fc.Binary)
	assert.Equal(t, int64(42), fc.Size)
	assert.Empty(t, fc.Content)
}

func TestReadFile_Errors(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindPlugin, "")
	require.NoError(t, err)

	_, err = s.ReadFile(d.Name, "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ReadFile(d.Name, "skills")
	assert.ErrorIs(t, err, ErrIsDirectory)

	for _, p := range []string{"../x", "/etc/passwd", "skills/../../x", "a/../../b", ""} {
		_, err = s.ReadFile(d.Name, p)
		assert.ErrorIs(t, err, ErrPathEscape, "path %q", p)
	}
}

func TestWriteFile(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	require.NoError(t, s.WriteFile(d.Name, "references/notes.md", "first"))
	require.NoError(t, s.WriteFile(d.Name, "references/notes.md", "second"))

	fc, err := s.ReadFile(d.Name, "references/notes.md")
	require.NoError(t, err)
	assert.Equal(t, "second", fc.Content)

	assert.ErrorIs(t, s.WriteFile(d.Name, "../escape.md", "x"), ErrPathEscape)
	assert.ErrorIs(t, s.WriteFile(d.Name, MetaFile, "{}"), ErrPathEscape)
	assert.NoFileExists(t, filepath.Join(s.Root(), "escape.md"))
}

func TestUpload_SanitizesNames(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	saved, err := s.Upload(d.Name, "assets", []UploadFile{
		{Name: "my logo (1).svg", Size: 3, Reader: strings.NewReader("abc")},
		{Name: "../../evil.sh", Size: 2, Reader: strings.NewReader("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/my_logo__1_.svg", "assets/evil.sh"}, saved)
	assert.FileExists(t, filepath.Join(d.Path, "assets", "evil.sh"))
}

func TestUpload_OversizeAbortsBatch(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	big := strings.Repeat("x", 2048)
	saved, err := s.Upload(d.Name, "", []UploadFile{
		{Name: "small.txt", Size: 5, Reader: strings.NewReader("small")},
		{Name: "big.txt", Size: int64(len(big)), Reader: strings.NewReader(big)},
		{Name: "after.txt", Size: 5, Reader: strings.NewReader("after")},
	})

	var tooLarge *UploadTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, "big.txt", tooLarge.File)
	assert.Contains(t, err.Error(), "big.txt")
	assert.Equal(t, []string{"small.txt"}, saved)

	assert.FileExists(t, filepath.Join(d.Path, "small.txt"))
	assert.NoFileExists(t, filepath.Join(d.Path, "big.txt"))
	assert.NoFileExists(t, filepath.Join(d.Path, "after.txt"))
}

func TestUpload_UnderreportedSize(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	big := strings.Repeat("x", 2048)
	_, err = s.Upload(d.Name, "", []UploadFile{{Name: "liar.txt", Size: 1, Reader: strings.NewReader(big)}})

	var tooLarge *UploadTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, "liar.txt", tooLarge.File)
	assert.NoFileExists(t, filepath.Join(d.Path, "liar.txt"))
}

func TestUpload_RejectsEscapingDir(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	_, err = s.Upload(d.Name, "../..", []UploadFile{{Name: "a.txt", Size: 1, Reader: strings.NewReader("a")}})
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindPlugin, "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(d.Name))
	assert.NoDirExists(t, d.Path)
	assert.ErrorIs(t, s.Delete(d.Name), ErrNotFound)
	assert.ErrorIs(t, s.Delete("../"), ErrInvalidName)
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	status := func() Status {
		got, err := s.Get(d.Name)
		require.NoError(t, err)
		return got.Status
	}

	// FinishRun before a run started is ignored.
	require.NoError(t, s.FinishRun(d.Name, true))
	assert.Equal(t, StatusIncomplete, status())

	require.NoError(t, s.MarkInProgress(d.Name))
	assert.Equal(t, StatusInProgress, status())

	require.NoError(t, s.FinishRun(d.Name, true))
	assert.Equal(t, StatusComplete, status())

	// A delayed failure notification cannot regress a completed draft.
	require.NoError(t, s.FinishRun(d.Name, false))
	assert.Equal(t, StatusComplete, status())

	// MarkInProgress only starts from incomplete.
	require.NoError(t, s.MarkInProgress(d.Name))
	assert.Equal(t, StatusComplete, status())

	require.NoError(t, s.MarkPromoted(d.Name, "my-plugin"))
	got, err := s.Get(d.Name)
	require.NoError(t, err)
	assert.Equal(t, StatusPromoted, got.Status)
	assert.Equal(t, "my-plugin", got.PromotedName)
	require.NotNil(t, got.PromotedAt)

	require.NoError(t, s.FinishRun(d.Name, false))
	assert.Equal(t, StatusPromoted, status())
}

func TestFinishRun_Failure(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Scaffold(KindSkill, "")
	require.NoError(t, err)

	require.NoError(t, s.MarkInProgress(d.Name))
	require.NoError(t, s.FinishRun(d.Name, false))

	got, err := s.Get(d.Name)
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, got.Status)
	assert.Nil(t, got.CompletedAt)
}
