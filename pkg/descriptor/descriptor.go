// Package descriptor holds the typed view of a model descriptor: the
// identity, connection parameters and execution parameters of one runnable
// inference backend.
package descriptor

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Category selects one of the three parameter groups of a descriptor.
type Category string

const (
	CategoryIdentity   Category = "identity"
	CategoryConnection Category = "connection"
	CategoryExecution  Category = "execution"
)

// Connection types understood by the driver registry.
const (
	ConnLocal  = "local"
	ConnRemote = "remote"
)

// Key names as stored in the configuration store.
const (
	KeyUID          = "uid"
	KeyName         = "name"
	KeyConnType     = "connType"
	KeyCreatedAt    = "createdAt"
	KeyUpdatedAt    = "lastUpdated"
	KeyPath         = "path"
	KeyCommand      = "command"
	KeyReadyToken   = "readyToken"
	KeyStartToken   = "startToken"
	KeyStopToken    = "stopToken"
	KeyExitToken    = "exitToken"
	KeyReadyTimeout = "readyTimeout"
	KeyHost         = "host"
	KeyPort         = "port"
	KeyUser         = "user"
	KeyPass         = "pass"
)

// legacyAliases maps canonical execution keys to the names older catalogs used.
var legacyAliases = map[string]string{
	KeyPath:    "modelPath",
	KeyCommand: "inferenceCommand",
}

// Params is a string-keyed parameter group.
type Params map[string]string

// Identity is the static part of a descriptor.
type Identity struct {
	UID       string    `json:"uid" yaml:"uid"`
	Name      string    `json:"name" yaml:"name"`
	ConnType  string    `json:"connType" yaml:"connType"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"lastUpdated" yaml:"lastUpdated"`
}

// Map renders the identity with the store's key names.
func (id Identity) Map() Params {
	m := Params{
		KeyUID:      id.UID,
		KeyName:     id.Name,
		KeyConnType: id.ConnType,
	}
	if !id.CreatedAt.IsZero() {
		m[KeyCreatedAt] = id.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !id.UpdatedAt.IsZero() {
		m[KeyUpdatedAt] = id.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// Tokens are the four protocol sentinels a backend must honour.
type Tokens struct {
	Ready string
	Start string
	Stop  string
	Exit  string
}

// Descriptor describes one runnable backend.
type Descriptor struct {
	Identity   Identity
	Connection Params
	Execution  Params
}

// FromMaps builds a descriptor from the ordered slot layout
// [identity, connection_params, execution_params].
func FromMaps(slots []map[string]string) (*Descriptor, error) {
	if len(slots) != 3 {
		return nil, &ConfigError{Category: CategoryIdentity, Reason: ReasonInvalid,
			Detail: fmt.Sprintf("expected 3 descriptor slots, got %d", len(slots))}
	}
	id := slots[0]
	d := &Descriptor{
		Identity: Identity{
			UID:      id[KeyUID],
			Name:     id[KeyName],
			ConnType: id[KeyConnType],
		},
		Connection: Params(maps.Clone(slots[1])),
		Execution:  Params(maps.Clone(slots[2])),
	}
	if d.Connection == nil {
		d.Connection = Params{}
	}
	if d.Execution == nil {
		d.Execution = Params{}
	}
	var err error
	if d.Identity.CreatedAt, err = parseTime(id[KeyCreatedAt]); err != nil {
		return nil, &ConfigError{Category: CategoryIdentity, Key: KeyCreatedAt, Reason: ReasonInvalid, Detail: err.Error()}
	}
	if d.Identity.UpdatedAt, err = parseTime(id[KeyUpdatedAt]); err != nil {
		return nil, &ConfigError{Category: CategoryIdentity, Key: KeyUpdatedAt, Reason: ReasonInvalid, Detail: err.Error()}
	}
	return d, nil
}

// ToMaps is the inverse of FromMaps.
func (d *Descriptor) ToMaps() []map[string]string {
	return []map[string]string{
		d.Identity.Map(),
		maps.Clone(d.Connection),
		maps.Clone(d.Execution),
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999 MST"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// Field returns the value stored under key in the given category. A missing
// or empty value yields a *ConfigError matching ErrMissingField.
func (d *Descriptor) Field(cat Category, key string) (string, error) {
	return d.FieldFor("", cat, key)
}

// FieldFor is Field with the requesting driver named in the error.
func (d *Descriptor) FieldFor(driver string, cat Category, key string) (string, error) {
	var group Params
	switch cat {
	case CategoryIdentity:
		group = d.Identity.Map()
	case CategoryConnection:
		group = d.Connection
	case CategoryExecution:
		group = d.Execution
	default:
		return "", &ConfigError{Category: cat, Key: key, Driver: driver, Reason: ReasonInvalid, Detail: "unknown category"}
	}
	if v := strings.TrimSpace(group[key]); v != "" {
		return group[key], nil
	}
	if alias, ok := legacyAliases[key]; ok && cat == CategoryExecution {
		if v := strings.TrimSpace(group[alias]); v != "" {
			return group[alias], nil
		}
	}
	return "", &ConfigError{Category: cat, Key: key, Driver: driver, Reason: ReasonMissing}
}

// Lookup returns an optional field without producing an error.
func (d *Descriptor) Lookup(cat Category, key string) (string, bool) {
	v, err := d.Field(cat, key)
	return v, err == nil
}

// Tokens returns the four protocol tokens, failing on the first one absent.
func (d *Descriptor) Tokens() (Tokens, error) {
	var t Tokens
	for _, f := range []struct {
		key string
		dst *string
	}{
		{KeyReadyToken, &t.Ready},
		{KeyStartToken, &t.Start},
		{KeyStopToken, &t.Stop},
		{KeyExitToken, &t.Exit},
	} {
		v, err := d.Field(CategoryExecution, f.key)
		if err != nil {
			return Tokens{}, err
		}
		*f.dst = v
	}
	return t, nil
}

// Validate checks what every driver needs: a known connection type and the
// protocol tokens. Driver-specific keys are checked by the drivers on spawn.
func (d *Descriptor) Validate() error {
	if d == nil {
		return &ConfigError{Category: CategoryIdentity, Reason: ReasonInvalid, Detail: "nil descriptor"}
	}
	switch d.Identity.ConnType {
	case ConnLocal, ConnRemote:
	case "":
		return &ConfigError{Category: CategoryIdentity, Key: KeyConnType, Reason: ReasonMissing}
	default:
		return &ConfigError{Category: CategoryIdentity, Key: KeyConnType, Reason: ReasonInvalid,
			Detail: fmt.Sprintf("unknown connection type %q", d.Identity.ConnType)}
	}
	_, err := d.Tokens()
	return err
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Connection = Params(maps.Clone(d.Connection))
	c.Execution = Params(maps.Clone(d.Execution))
	if c.Connection == nil {
		c.Connection = Params{}
	}
	if c.Execution == nil {
		c.Execution = Params{}
	}
	return &c
}

// Redacted returns a copy safe to print: the connection secret is masked.
func (d *Descriptor) Redacted() *Descriptor {
	c := d.Clone()
	if _, ok := c.Connection[KeyPass]; ok {
		c.Connection[KeyPass] = "********"
	}
	return c
}
