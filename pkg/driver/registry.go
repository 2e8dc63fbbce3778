package driver

import "github.com/Timotej979/Model-executor-runtime/pkg/descriptor"

// New selects the driver for the descriptor's connection type. This is the
// only place backend kinds are registered.
func New(desc *descriptor.Descriptor, cfg Config) (Driver, error) {
	if desc != nil {
		switch desc.Identity.ConnType {
		case descriptor.ConnLocal, descriptor.ConnRemote, "":
		default:
			return nil, &UnknownKindError{Kind: desc.Identity.ConnType}
		}
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	switch desc.Identity.ConnType {
	case descriptor.ConnLocal:
		return NewLocal(desc, cfg)
	case descriptor.ConnRemote:
		return NewRemote(desc, cfg)
	}
	return nil, &UnknownKindError{Kind: desc.Identity.ConnType}
}
