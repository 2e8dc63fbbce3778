// Package meal is the entry point for callers that only hold a descriptor:
// it picks the backend kind and exposes the spawned session.
package meal

import (
	"context"

	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

// MEAL binds one descriptor to the driver that can run it.
type MEAL struct {
	desc *descriptor.Descriptor
	drv  driver.Driver
}

// Create validates the descriptor and selects its driver. Nothing is started.
func Create(desc *descriptor.Descriptor, cfg driver.Config) (*MEAL, error) {
	drv, err := driver.New(desc, cfg)
	if err != nil {
		return nil, err
	}
	return &MEAL{desc: desc.Clone(), drv: drv}, nil
}

// Spawn starts the backend. It can be called once.
func (m *MEAL) Spawn(ctx context.Context) (*driver.Session, error) {
	return m.drv.Spawn(ctx)
}

// DriverKind returns the connection type in use, "local" or "remote".
func (m *MEAL) DriverKind() string { return m.drv.Kind() }

func (m *MEAL) State() driver.State { return m.drv.State() }

// Descriptor returns a copy of the descriptor the instance was created from.
func (m *MEAL) Descriptor() *descriptor.Descriptor { return m.desc.Clone() }
