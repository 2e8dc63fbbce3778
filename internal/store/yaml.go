package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// Model is the YAML shape of one catalog entry.
type Model struct {
	Name        string            `yaml:"name"`
	UID         string            `yaml:"uid,omitempty"`
	ConnType    string            `yaml:"connType"`
	CreatedAt   string            `yaml:"createdAt,omitempty"`
	LastUpdated string            `yaml:"lastUpdated,omitempty"`
	Connection  map[string]string `yaml:"connection,omitempty"`
	Execution   map[string]string `yaml:"execution"`
}

type catalogFile struct {
	Models []Model `yaml:"models"`
}

// Descriptor converts the entry.
func (m Model) Descriptor() (*descriptor.Descriptor, error) {
	return descriptor.FromMaps([]map[string]string{
		{
			descriptor.KeyUID:       m.UID,
			descriptor.KeyName:      m.Name,
			descriptor.KeyConnType:  m.ConnType,
			descriptor.KeyCreatedAt: m.CreatedAt,
			descriptor.KeyUpdatedAt: m.LastUpdated,
		},
		m.Connection,
		m.Execution,
	})
}

// ModelFrom is the inverse of Model.Descriptor.
func ModelFrom(d *descriptor.Descriptor) Model {
	id := d.Identity.Map()
	return Model{
		Name:        d.Identity.Name,
		UID:         d.Identity.UID,
		ConnType:    d.Identity.ConnType,
		CreatedAt:   id[descriptor.KeyCreatedAt],
		LastUpdated: id[descriptor.KeyUpdatedAt],
		Connection:  d.Connection,
		Execution:   d.Execution,
	}
}

// DecodeModels parses either a catalog (`models:` list) or a single model
// document.
func DecodeModels(b []byte) ([]*descriptor.Descriptor, error) {
	var cat catalogFile
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	models := cat.Models
	if len(models) == 0 {
		var one Model
		if err := yaml.Unmarshal(b, &one); err != nil {
			return nil, fmt.Errorf("decode model: %w", err)
		}
		if one.Name == "" {
			return nil, errors.New("decode model: no models found")
		}
		models = []Model{one}
	}
	out := make([]*descriptor.Descriptor, 0, len(models))
	for _, m := range models {
		d, err := m.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// YAMLStore keeps the catalog in a single YAML file. Writes rewrite the
// whole file; Watch picks up edits made by other processes.
type YAMLStore struct {
	path string
	log  *zap.Logger

	mu     sync.RWMutex
	models map[string]*descriptor.Descriptor
}

// OpenYAML loads the catalog at path. A missing file is an empty catalog.
func OpenYAML(path string, log *zap.Logger) (*YAMLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &YAMLStore{path: filepath.Clean(path), log: log.Named("store.yaml")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file.
func (s *YAMLStore) Reload() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.models = map[string]*descriptor.Descriptor{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	models := map[string]*descriptor.Descriptor{}
	if len(bytes.TrimSpace(b)) > 0 {
		ds, err := DecodeModels(b)
		if err != nil {
			return fmt.Errorf("%s: %w", s.path, err)
		}
		for _, d := range ds {
			models[d.Identity.Name] = d
		}
	}
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
	s.log.Debug("catalog loaded", zap.String("path", s.path), zap.Int("models", len(models)))
	return nil
}

func (s *YAMLStore) List(context.Context) ([]*descriptor.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*descriptor.Descriptor, 0, len(s.models))
	for _, d := range s.models {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.Name < out[j].Identity.Name })
	return out, nil
}

func (s *YAMLStore) Get(_ context.Context, name string) (*descriptor.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d.Clone(), nil
}

func (s *YAMLStore) Put(_ context.Context, d *descriptor.Descriptor) error {
	if err := checkName(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.models)
	prev := s.models[d.Identity.Name]
	if prev == nil && d.Identity.UID != "" {
		for name, m := range s.models {
			if m.Identity.UID == d.Identity.UID {
				prev = m
				delete(next, name)
				break
			}
		}
	}
	next[d.Identity.Name] = stamp(d, prev, time.Now().UTC())
	return s.commitLocked(next)
}

func (s *YAMLStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	next := maps.Clone(s.models)
	delete(next, name)
	return s.commitLocked(next)
}

func (s *YAMLStore) Close() error { return nil }

// commitLocked writes models to disk and adopts them only if the write
// succeeded.
func (s *YAMLStore) commitLocked(models map[string]*descriptor.Descriptor) error {
	if err := writeCatalog(s.path, models); err != nil {
		return err
	}
	s.models = models
	return nil
}

// writeCatalog replaces the file at path via a temp file and rename.
func writeCatalog(path string, models map[string]*descriptor.Descriptor) error {
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)
	cat := catalogFile{Models: make([]Model, 0, len(names))}
	for _, n := range names {
		cat.Models = append(cat.Models, ModelFrom(models[n]))
	}
	b, err := yaml.Marshal(&cat)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalog-*.yaml")
	if err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// Watch reloads the catalog whenever the file changes until ctx ends.
// onReload, if set, runs after each reload attempt with its error. Events
// are debounced so an editor's write-rename sequence causes one reload.
func (s *YAMLStore) Watch(ctx context.Context, onReload func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	defer w.Close()
	// Watch the directory: editors and commitLocked replace the file.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	s.log.Info("watching catalog", zap.String("path", s.path))

	const debounce = 100 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("catalog watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			err := s.Reload()
			if err != nil {
				s.log.Warn("catalog reload failed; keeping previous contents", zap.Error(err))
			} else {
				s.log.Info("catalog reloaded", zap.String("path", s.path))
			}
			if onReload != nil {
				onReload(err)
			}
		}
	}
}
