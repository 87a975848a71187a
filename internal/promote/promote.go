// Package promote turns a finished draft into an installed plugin: it
// normalizes the manifest, copies the draft into the plugin cache and records
// the installation in the install registry.
package promote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"skill-forge/internal/draft"
	"skill-forge/internal/validate"
)

// ErrNotPromotable is returned for drafts without a plugin manifest.
var ErrNotPromotable = errors.New("draft is not promotable")

const (
	defaultAuthor      = "skill-creator"
	defaultMarketplace = "local"
	defaultVersion     = "1.0.0"
	registryFileName   = "installed_plugins.json"
)

// Config configures a Pipeline.
type Config struct {
	// PluginsDir holds installed_plugins.json and the cache directory.
	PluginsDir string
	// Author is written into every promoted manifest.
	Author string
	// Marketplace namespaces registry keys and cache paths.
	Marketplace string
	// External optionally runs an out-of-process structural check.
	External *ExternalValidator
}

// Result describes a completed promotion.
type Result struct {
	Name        string           `json:"name"`
	InstallPath string           `json:"installPath"`
	Version     string           `json:"version"`
	Validation  *validate.Result `json:"validation"`
	External    *ExternalReport  `json:"external,omitempty"`
}

// Pipeline promotes drafts from a store.
type Pipeline struct {
	store *draft.Store
	cfg   Config
	now   func() time.Time
}

// New creates a promotion pipeline.
func New(store *draft.Store, cfg Config) *Pipeline {
	if cfg.Author == "" {
		cfg.Author = defaultAuthor
	}
	if cfg.Marketplace == "" {
		cfg.Marketplace = defaultMarketplace
	}
	return &Pipeline{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RegistryPath returns the install registry file location.
func (p *Pipeline) RegistryPath() string {
	return filepath.Join(p.cfg.PluginsDir, registryFileName)
}

// RegistryKey returns the registry key for a plugin name.
func (p *Pipeline) RegistryKey(name string) string {
	return name + "@" + p.cfg.Marketplace
}

// Promote installs the named draft. Validation results are attached but do
// not block the promotion.
func (p *Pipeline) Promote(ctx context.Context, draftName string) (*Result, error) {
	d, err := p.store.Get(draftName)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(d.Path, filepath.FromSlash(draft.ManifestPath))
	if _, err := os.Stat(manifestPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrNotPromotable, draftName, draft.ManifestPath)
		}
		return nil, fmt.Errorf("stat manifest: %w", err)
	}

	// 1. Normalize the manifest.
	name, version, err := p.normalizeManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	// 2. Informational validation.
	result := &Result{
		Name:       name,
		Version:    version,
		Validation: validate.Validate(d.Path),
	}
	if p.cfg.External != nil {
		result.External = p.cfg.External.Run(ctx, d.Path)
	}
	if !result.Validation.Valid {
		log.Warn().
			Str("draft", draftName).
			Int("errors", len(result.Validation.Errors)).
			Msg("Promoting draft with validation errors")
	}

	// 3. Copy into the versioned cache location.
	installPath := filepath.Join(p.cfg.PluginsDir, "cache", p.cfg.Marketplace, name, version)
	if err := replaceTree(d.Path, installPath); err != nil {
		return nil, fmt.Errorf("copy draft to cache: %w", err)
	}
	result.InstallPath = installPath

	// 4. Register the installation.
	reg, err := readRegistry(p.RegistryPath())
	if err != nil {
		return nil, err
	}
	now := p.now()
	reg.upsert(p.RegistryKey(name), InstallEntry{
		Scope:       "user",
		InstallPath: installPath,
		Version:     version,
		InstalledAt: now,
		LastUpdated: now,
		IsLocal:     true,
	})
	if err := reg.write(p.RegistryPath()); err != nil {
		return nil, err
	}

	// 5. Record the promotion on the draft.
	if err := p.store.MarkPromoted(draftName, name); err != nil {
		return nil, fmt.Errorf("mark draft promoted: %w", err)
	}

	log.Info().
		Str("draft", draftName).
		Str("plugin", name).
		Str("version", version).
		Str("installPath", installPath).
		Msg("Draft promoted")

	return result, nil
}

// normalizeManifest forces the author field and returns name and version.
// Unknown manifest fields are preserved.
func (p *Pipeline) normalizeManifest(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read manifest: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return "", "", fmt.Errorf("%w: manifest is not a JSON object", ErrNotPromotable)
	}

	name, _ := m["name"].(string)
	if name == "" {
		return "", "", fmt.Errorf("%w: manifest has no name", ErrNotPromotable)
	}
	if draft.ValidateName(name) != nil {
		return "", "", fmt.Errorf("%w: manifest name %q is not a valid plugin name", ErrNotPromotable, name)
	}

	version, _ := m["version"].(string)
	if version == "" {
		version = defaultVersion
		m["version"] = version
	}
	if !semverish(version) {
		return "", "", fmt.Errorf("%w: manifest version %q cannot be used as a path", ErrNotPromotable, version)
	}

	m["author"] = map[string]interface{}{"name": p.cfg.Author}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return "", "", fmt.Errorf("write manifest: %w", err)
	}
	return name, version, nil
}

// semverish accepts dotted versions that are safe as a single path segment.
func semverish(v string) bool {
	if v == "" || v == "." || v == ".." {
		return false
	}
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '.', r == '-', r == '+', r == '_':
		default:
			return false
		}
	}
	return v[0] != '.'
}

// replaceTree copies src to dst, removing any previous dst first. The draft
// metadata file is skipped.
func replaceTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("remove previous install: %w", err)
	}
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == draft.MetaFile {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0o755)
		case entry.Type()&fs.ModeSymlink != 0:
			// Symlinks could point outside the draft.
			return nil
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
