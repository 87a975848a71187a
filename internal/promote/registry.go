package promote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const registryVersion = 2

// InstallEntry is one installation record in the install registry.
type InstallEntry struct {
	Scope        string    `json:"scope"`
	InstallPath  string    `json:"installPath"`
	Version      string    `json:"version"`
	InstalledAt  time.Time `json:"installedAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
	IsLocal      bool      `json:"isLocal"`
	GitCommitSha string    `json:"gitCommitSha,omitempty"`
}

// registryFile mirrors installed_plugins.json. Unknown top-level keys are
// kept in extra so other tools sharing the file do not lose data.
type registryFile struct {
	Version int                       `json:"version"`
	Plugins map[string][]InstallEntry `json:"plugins"`
	extra   map[string]json.RawMessage
}

func readRegistry(path string) (*registryFile, error) {
	reg := &registryFile{
		Version: registryVersion,
		Plugins: make(map[string][]InstallEntry),
		extra:   make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return reg, nil
		}
		return nil, fmt.Errorf("read install registry: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse install registry: %w", err)
	}
	for k, v := range raw {
		switch k {
		case "version":
			if err := json.Unmarshal(v, &reg.Version); err != nil {
				return nil, fmt.Errorf("parse install registry version: %w", err)
			}
		case "plugins":
			if err := json.Unmarshal(v, &reg.Plugins); err != nil {
				return nil, fmt.Errorf("parse install registry plugins: %w", err)
			}
			if reg.Plugins == nil {
				reg.Plugins = make(map[string][]InstallEntry)
			}
		default:
			reg.extra[k] = v
		}
	}
	return reg, nil
}

// upsert inserts or replaces the user-scope entry for key, keeping the
// original install time.
func (r *registryFile) upsert(key string, entry InstallEntry) {
	entries := r.Plugins[key]
	for i, existing := range entries {
		if existing.Scope == entry.Scope {
			if !existing.InstalledAt.IsZero() {
				entry.InstalledAt = existing.InstalledAt
			}
			entries[i] = entry
			r.Plugins[key] = entries
			return
		}
	}
	r.Plugins[key] = append(entries, entry)
}

// write stores the registry via a temp file and rename.
func (r *registryFile) write(path string) error {
	out := make(map[string]interface{}, len(r.extra)+2)
	for k, v := range r.extra {
		out[k] = v
	}
	out["version"] = r.Version
	out["plugins"] = r.Plugins

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal install registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".installed_plugins-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace install registry: %w", err)
	}
	return nil
}
