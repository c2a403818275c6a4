package plugin

// State represents the lifecycle position of a plugin inside one run.
type State string

const (
	StateRegistered State = "registered"
	StateListed     State = "listed"
	StatePrepared   State = "prepared"
	StateStarted    State = "started"
	StateFailed     State = "failed"
)

// Dependency is a declared requirement on another plugin.
type Dependency struct {
	Name     string `yaml:"name" json:"name"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Parameter is a constructor parameter of a meta extension. Exactly one of
// Type and OneOf is set.
type Parameter struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
	// Type names a fixed parameter type.
	Type string `yaml:"type,omitempty"`
	// OneOf lists the members of a closed union of type ids.
	OneOf []string `yaml:"oneOf,omitempty"`
}

// ExtensionDecl is one implementation contributed by a plugin or by the host.
type ExtensionDecl struct {
	Capability string      `yaml:"capability"`
	Type       string      `yaml:"type"`
	Name       string      `yaml:"name"`
	Advanced   bool        `yaml:"advanced,omitempty"`
	Meta       bool        `yaml:"meta,omitempty"`
	Parameters []Parameter `yaml:"parameters,omitempty"`
}

// Manifest is the content of an archive's plugin.yaml.
type Manifest struct {
	Name           string          `yaml:"name"`
	Version        string          `yaml:"version"`
	DisplayName    string          `yaml:"displayName"`
	MinHostVersion string          `yaml:"minHostVersion"`
	Dependencies   []Dependency    `yaml:"dependencies"`
	Extensions     []ExtensionDecl `yaml:"extensions"`
}
