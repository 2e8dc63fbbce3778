// Package store persists the model catalog: one descriptor per model name.
// Two backends exist, a SQLite database and a hand-edited YAML file.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// ErrNotFound is returned when no model has the requested name.
var ErrNotFound = errors.New("model not found")

// Store is a catalog of model descriptors keyed by name.
type Store interface {
	List(ctx context.Context) ([]*descriptor.Descriptor, error)
	Get(ctx context.Context, name string) (*descriptor.Descriptor, error)
	// Put inserts or replaces the model with the descriptor's name.
	Put(ctx context.Context, d *descriptor.Descriptor) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendYAML   = "yaml"
)

// Open returns the store for the given backend.
func Open(ctx context.Context, backend, path string, log *zap.Logger) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, path, log)
	case BackendYAML:
		return OpenYAML(path, log)
	}
	return nil, fmt.Errorf("store: unknown backend %q", backend)
}

// stamp fills identity fields a new or updated entry needs. prev is the
// stored entry with the same name or, failing that, the same UID.
func stamp(d *descriptor.Descriptor, prev *descriptor.Descriptor, now time.Time) *descriptor.Descriptor {
	c := d.Clone()
	switch {
	case prev != nil:
		c.Identity.UID = prev.Identity.UID
		c.Identity.CreatedAt = prev.Identity.CreatedAt
	case c.Identity.UID == "":
		c.Identity.UID = uuid.NewString()
	}
	if c.Identity.CreatedAt.IsZero() {
		c.Identity.CreatedAt = now
	}
	c.Identity.UpdatedAt = now
	return c
}

func checkName(d *descriptor.Descriptor) error {
	if d == nil || d.Identity.Name == "" {
		return &descriptor.ConfigError{Category: descriptor.CategoryIdentity, Key: descriptor.KeyName, Reason: descriptor.ReasonMissing}
	}
	return nil
}
