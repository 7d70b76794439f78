package protocol

import "fmt"

// DescriptorKind distinguishes the two forms of capability descriptor.
type DescriptorKind string

const (
	// DescriptorNamed names a capability handler factory and the version the
	// server-side handler was built with.
	DescriptorNamed DescriptorKind = "named"
	// DescriptorVanilla names a plain interface whose operations are forwarded
	// by name and signature without any version negotiation.
	DescriptorVanilla DescriptorKind = "vanilla"
)

// CapabilityDescriptor is the compact description of one capability a node
// supports, as sent by the server when the node is first discovered.
type CapabilityDescriptor struct {
	Kind    DescriptorKind `json:"kind" yaml:"kind"`
	Name    string         `json:"name" yaml:"name"`
	Version HandlerVersion `json:"version,omitempty" yaml:"version,omitempty"`
}

// Named returns a named-with-version descriptor.
func Named(name string, version HandlerVersion) CapabilityDescriptor {
	return CapabilityDescriptor{Kind: DescriptorNamed, Name: name, Version: version}
}

// Vanilla returns a vanilla descriptor for the interface name.
func Vanilla(name string) CapabilityDescriptor {
	return CapabilityDescriptor{Kind: DescriptorVanilla, Name: name}
}

// Validate checks the descriptor is well formed.
func (d CapabilityDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("capability descriptor has no name")
	}
	switch d.Kind {
	case DescriptorNamed, DescriptorVanilla:
		return nil
	default:
		return fmt.Errorf("capability descriptor %q has unknown kind %q", d.Name, d.Kind)
	}
}

// String implements fmt.Stringer.
func (d CapabilityDescriptor) String() string {
	if d.Kind == DescriptorVanilla {
		return "vanilla:" + d.Name
	}
	return d.Name + "@" + d.Version.String()
}
