package draft

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	validName    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	unsafeUpload = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// ValidateName rejects draft names that could address anything other than a
// direct child of the drafts directory.
func ValidateName(name string) error {
	if !validName.MatchString(name) || len(name) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// CleanRel normalizes a client-supplied relative path to forward-slash form.
// Absolute paths and any ".." segment are rejected before cleaning so that
// "a/../../b" cannot be smuggled through path.Clean.
func CleanRel(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
		}
	}
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q names the draft root", ErrPathEscape, rel)
	}
	return cleaned, nil
}

// resolveWithin joins rel onto root and verifies the result stays inside root.
func resolveWithin(root, rel string) (string, string, error) {
	cleaned, err := CleanRel(rel)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(root, filepath.FromSlash(cleaned))
	if !isWithin(root, full) {
		return "", "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	if err := checkReal(root, full); err != nil {
		return "", "", err
	}
	return full, cleaned, nil
}

func isWithin(root, p string) bool {
	within, err := filepath.Rel(root, p)
	return err == nil && within != ".." && !strings.HasPrefix(within, ".."+string(filepath.Separator))
}

// checkReal resolves symlinks along full and verifies the result is still
// inside root. Missing trailing components are resolved through their
// deepest existing ancestor; a dangling symlink is rejected.
func checkReal(root, full string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolve draft root: %w", err)
	}

	p := full
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			if !isWithin(realRoot, resolved) {
				return fmt.Errorf("%w: %s resolves outside the draft", ErrPathEscape, filepath.Base(full))
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("resolve path: %w", err)
		}
		if _, lerr := os.Lstat(p); lerr == nil {
			return fmt.Errorf("%w: %s is a dangling link", ErrPathEscape, filepath.Base(p))
		}

		parent := filepath.Dir(p)
		if parent == p || !isWithin(root, parent) {
			return fmt.Errorf("%w: %s", ErrPathEscape, full)
		}
		p = parent
	}
}

// SanitizeUploadName reduces an uploaded file name to a safe base name.
// Directory components are discarded.
func SanitizeUploadName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = unsafeUpload.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "upload"
	}
	return name
}

func isMetaPath(rel string) bool {
	return rel == MetaFile
}
