package registry

import (
	"errors"
	"fmt"
)

// ErrRegistrySealed is returned by Register once dispatch has begun.
var ErrRegistrySealed = errors.New("registry is sealed: plugins cannot be registered after dispatch has begun")

// DuplicatePluginError is returned when a plugin name is already registered.
type DuplicatePluginError struct {
	Name string
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("plugin %q already registered", e.Name)
}

// InvalidDescriptorError is returned when a plugin's descriptor is incomplete
// or declares an unsupported document type.
type InvalidDescriptorError struct {
	Name   string
	Field  string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	name := e.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("invalid descriptor for plugin %s: %s: %s", name, e.Field, e.Reason)
}
