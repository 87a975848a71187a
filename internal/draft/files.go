package draft

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// binaryExtensions are returned as size-only markers by ReadFile.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".bmp": true, ".ico": true, ".tiff": true,
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".7z": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".wav": true, ".ogg": true, ".mov": true, ".webm": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true, ".wasm": true,
}

// IsBinaryPath reports whether a path has a known binary extension.
func IsBinaryPath(p string) bool {
	return binaryExtensions[strings.ToLower(path.Ext(p))]
}

// ListFiles walks a draft recursively. The metadata file is excluded.
// Symlinks are not followed; links resolving outside the draft are omitted.
func (s *Store) ListFiles(name string) ([]File, error) {
	d, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	realRoot, err := filepath.EvalSymlinks(d.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve draft root: %w", err)
	}

	var files []File
	err = filepath.WalkDir(d.Path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			log.Debug().Err(err).Str("path", p).Msg("Skipping unreadable draft path")
			if entry != nil && entry.IsDir() && p != d.Path {
				return filepath.SkipDir
			}
			return nil
		}
		if p == d.Path {
			return nil
		}

		rel, err := filepath.Rel(d.Path, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if isMetaPath(rel) {
			return nil
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			if f, ok := linkEntry(realRoot, p, rel); ok {
				files = append(files, f)
			}
			return nil
		}

		if entry.IsDir() {
			files = append(files, File{Path: rel, Type: TypeDirectory})
			return nil
		}

		f := File{Path: rel, Type: TypeFile}
		if info, err := entry.Info(); err == nil {
			f.Size = info.Size()
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk draft: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// linkEntry describes a symlink whose target stays inside the draft.
func linkEntry(realRoot, p, rel string) (File, bool) {
	target, err := filepath.EvalSymlinks(p)
	if err != nil || !isWithin(realRoot, target) {
		log.Debug().Str("path", rel).Msg("Omitting link outside draft")
		return File{}, false
	}
	info, err := os.Stat(target)
	if err != nil {
		return File{}, false
	}
	if info.IsDir() {
		return File{Path: rel, Type: TypeDirectory}, true
	}
	return File{Path: rel, Type: TypeFile, Size: info.Size()}, true
}

// ReadFile returns a draft file's text content, or a binary marker for
// known binary extensions.
func (s *Store) ReadFile(name, rel string) (*FileContent, error) {
	full, cleaned, err := s.resolve(name, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", ErrNotFound, cleaned)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, cleaned)
	}

	if IsBinaryPath(cleaned) {
		return &FileContent{Path: cleaned, Binary: true, Size: info.Size()}, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return &FileContent{Path: cleaned, Content: string(data), Size: int64(len(data))}, nil
}

// WriteFile overwrites a draft file, creating parent directories.
func (s *Store) WriteFile(name, rel, content string) error {
	full, cleaned, err := s.resolve(name, rel)
	if err != nil {
		return err
	}
	if isMetaPath(cleaned) {
		return fmt.Errorf("%w: %s is reserved", ErrPathEscape, cleaned)
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, cleaned)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Upload writes a batch of files into dir (relative to the draft root, empty
// for the root). Names are sanitized. The batch stops at the first file over
// the size ceiling; files written before it stay on disk.
func (s *Store) Upload(name, dir string, files []UploadFile) ([]string, error) {
	if dir != "" && dir != "." {
		if _, err := CleanRel(dir); err != nil {
			return nil, err
		}
	}
	d, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	targetDir := d.Path
	relDir := ""
	if dir != "" && dir != "." {
		full, cleaned, err := resolveWithin(d.Path, dir)
		if err != nil {
			return nil, err
		}
		targetDir, relDir = full, cleaned
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	saved := make([]string, 0, len(files))
	for _, f := range files {
		if f.Size > s.maxUploadBytes {
			return saved, &UploadTooLargeError{File: f.Name, Size: f.Size, Limit: s.maxUploadBytes}
		}

		safe := SanitizeUploadName(f.Name)
		rel := safe
		if relDir != "" {
			rel = relDir + "/" + safe
		}
		if isMetaPath(rel) {
			return saved, fmt.Errorf("%w: %s is reserved", ErrPathEscape, rel)
		}

		dst := filepath.Join(targetDir, safe)
		if err := checkReal(d.Path, dst); err != nil {
			return saved, err
		}

		n, err := writeLimited(dst, f.Reader, s.maxUploadBytes)
		if err != nil {
			var tooLarge *UploadTooLargeError
			if errors.As(err, &tooLarge) {
				tooLarge.File = f.Name
			}
			return saved, err
		}

		log.Debug().Str("draft", name).Str("file", rel).Int64("bytes", n).Msg("Uploaded draft file")
		saved = append(saved, rel)
	}
	return saved, nil
}

// writeLimited copies at most limit bytes; a longer stream removes the
// partial file and fails with UploadTooLargeError.
func writeLimited(dst string, r io.Reader, limit int64) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}

	n, copyErr := io.Copy(out, io.LimitReader(r, limit+1))
	closeErr := out.Close()

	if copyErr == nil && n > limit {
		os.Remove(dst)
		return n, &UploadTooLargeError{Size: n, Limit: limit}
	}
	if copyErr != nil {
		os.Remove(dst)
		return n, fmt.Errorf("write upload: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close upload: %w", closeErr)
	}
	return n, nil
}

func (s *Store) resolve(name, rel string) (string, string, error) {
	// Path validation runs before the draft lookup touches the filesystem.
	if err := ValidateName(name); err != nil {
		return "", "", err
	}
	if _, err := CleanRel(rel); err != nil {
		return "", "", err
	}
	d, err := s.Get(name)
	if err != nil {
		return "", "", err
	}
	return resolveWithin(d.Path, rel)
}
