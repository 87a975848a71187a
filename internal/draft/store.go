package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxUploadBytes is the per-file upload ceiling.
	DefaultMaxUploadBytes = 10 << 20

	listConcurrency = 8
)

// Store owns the drafts directory.
type Store struct {
	root           string
	maxUploadBytes int64

	// metaMu serializes metadata read-modify-write cycles. File contents
	// are not locked.
	metaMu sync.Mutex
	now    func() time.Time
}

// NewStore creates a store rooted at dir. A maxUploadBytes of zero selects
// DefaultMaxUploadBytes.
func NewStore(dir string, maxUploadBytes int64) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve drafts dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create drafts dir: %w", err)
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Store{
		root:           abs,
		maxUploadBytes: maxUploadBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Root returns the absolute drafts directory.
func (s *Store) Root() string {
	return s.root
}

// MaxUploadBytes returns the per-file upload ceiling.
func (s *Store) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Path returns the absolute directory of a draft without checking existence.
func (s *Store) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// NewName generates a fresh timestamp-ordered draft name.
func NewName() string {
	return "draft-" + strings.ToLower(ulid.Make().String())
}

// Scaffold creates a new draft directory with a minimal skeleton for kind.
func (s *Store) Scaffold(kind Kind, sessionID string) (*Draft, error) {
	name := NewName()
	dir := filepath.Join(s.root, name)

	files, err := skeleton(kind, name)
	if err != nil {
		return nil, err
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, fmt.Errorf("create draft dir: %w", err)
	}

	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, fmt.Errorf("scaffold %s: %w", rel, err)
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return nil, fmt.Errorf("scaffold %s: %w", rel, err)
		}
	}

	m := meta{
		Kind:      kind,
		Status:    StatusIncomplete,
		SessionID: sessionID,
		CreatedAt: s.now(),
	}
	if err := writeMeta(dir, &m); err != nil {
		return nil, err
	}

	log.Debug().Str("draft", name).Str("kind", string(kind)).Msg("Draft scaffolded")

	return toDraft(name, dir, &m, false), nil
}

// Get loads a draft by name.
func (s *Store) Get(name string) (*Draft, error) {
	dir, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return s.load(name, dir)
}

func (s *Store) load(name, dir string) (*Draft, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("stat draft: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	m, err := readMeta(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("draft", name).Msg("Unreadable draft metadata, treating as legacy")
		}
		return s.legacy(name, dir, info), nil
	}
	return toDraft(name, dir, m, false), nil
}

// legacy infers metadata for drafts created before metadata files existed.
func (s *Store) legacy(name, dir string, info fs.FileInfo) *Draft {
	kind := KindSkill
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(ManifestPath))); err == nil {
		kind = KindPlugin
	}
	return toDraft(name, dir, &meta{
		Kind:      kind,
		Status:    StatusIncomplete,
		CreatedAt: info.ModTime().UTC(),
	}, true)
}

// List returns every draft, newest first.
func (s *Store) List(ctx context.Context) ([]*Draft, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read drafts dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}

	drafts := make([]*Draft, len(names))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			d, err := s.load(name, filepath.Join(s.root, name))
			if err != nil {
				// Removed between ReadDir and load.
				log.Debug().Err(err).Str("draft", name).Msg("Skipping draft")
				return nil
			}
			drafts[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]*Draft, 0, len(drafts))
	for _, d := range drafts {
		if d != nil {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Name > result[j].Name
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes a draft directory recursively.
func (s *Store) Delete(name string) error {
	dir, err := s.Path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("stat draft: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	log.Info().Str("draft", name).Msg("Draft deleted")
	return nil
}

// MarkInProgress moves an incomplete draft to in_progress.
func (s *Store) MarkInProgress(name string) error {
	return s.updateMeta(name, func(m *meta) bool {
		if m.Status != StatusIncomplete {
			return false
		}
		m.Status = StatusInProgress
		return true
	})
}

// FinishRun records the end of an agent run. Only in_progress drafts change,
// so late or repeated exit notifications cannot regress a draft.
func (s *Store) FinishRun(name string, success bool) error {
	return s.updateMeta(name, func(m *meta) bool {
		if m.Status != StatusInProgress {
			return false
		}
		if success {
			now := s.now()
			m.Status = StatusComplete
			m.CompletedAt = &now
		} else {
			m.Status = StatusIncomplete
		}
		return true
	})
}

// MarkPromoted records a successful promotion. Promoted is terminal but
// re-promotion refreshes the timestamp and name.
func (s *Store) MarkPromoted(name, promotedName string) error {
	return s.updateMeta(name, func(m *meta) bool {
		now := s.now()
		m.Status = StatusPromoted
		m.PromotedAt = &now
		m.PromotedName = promotedName
		return true
	})
}

func (s *Store) updateMeta(name string, fn func(*meta) bool) error {
	d, err := s.Get(name)
	if err != nil {
		return err
	}

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	m, err := readMeta(d.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read metadata: %w", err)
		}
		m = &meta{Kind: d.Kind, Status: d.Status, CreatedAt: d.CreatedAt}
	}
	if !fn(m) {
		return nil
	}
	return writeMeta(d.Path, m)
}

func readMeta(dir string) (*meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaFile, err)
	}
	if m.Kind == "" {
		m.Kind = KindSkill
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(ManifestPath))); err == nil {
			m.Kind = KindPlugin
		}
	}
	if m.Status == "" {
		m.Status = StatusIncomplete
	}
	return &m, nil
}

func writeMeta(dir string, m *meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func toDraft(name, dir string, m *meta, legacy bool) *Draft {
	return &Draft{
		Name:         name,
		Path:         dir,
		Kind:         m.Kind,
		Status:       m.Status,
		SessionID:    m.SessionID,
		CreatedAt:    m.CreatedAt,
		CompletedAt:  m.CompletedAt,
		PromotedAt:   m.PromotedAt,
		PromotedName: m.PromotedName,
		Legacy:       legacy,
	}
}
