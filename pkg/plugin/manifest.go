package plugin

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name expected at the root of every archive.
const ManifestFile = "plugin.yaml"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ParseManifest decodes and validates a plugin manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ManifestFile, err)
	}
	if err := m.Validate(); err != nil {
		return &m, err
	}
	return &m, nil
}

// Validate checks the manifest for structural problems.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.New("manifest has no name")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("invalid plugin name %q", m.Name)
	}
	if m.Version == "" {
		return errors.New("manifest has no version")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", m.Version, err)
	}
	if m.MinHostVersion != "" {
		if _, err := semver.NewVersion(m.MinHostVersion); err != nil {
			return fmt.Errorf("invalid minHostVersion %q: %w", m.MinHostVersion, err)
		}
	}

	seen := make(map[string]struct{}, len(m.Dependencies))
	for i, dep := range m.Dependencies {
		switch {
		case dep.Name == "":
			return fmt.Errorf("dependency #%d has no name", i+1)
		case dep.Name == m.Name:
			return errors.New("plugin depends on itself")
		}
		if _, dup := seen[dep.Name]; dup {
			return fmt.Errorf("duplicate dependency %s", dep.Name)
		}
		seen[dep.Name] = struct{}{}
	}
	return validateExtensions(m.Extensions)
}

func validateExtensions(decls []ExtensionDecl) error {
	types := make(map[string]struct{}, len(decls))
	for i, decl := range decls {
		if decl.Capability == "" || decl.Type == "" || decl.Name == "" {
			return fmt.Errorf("extension #%d needs capability, type and name", i+1)
		}
		if _, dup := types[decl.Type]; dup {
			return fmt.Errorf("type %s declared twice", decl.Type)
		}
		types[decl.Type] = struct{}{}
		if !decl.Meta {
			continue
		}
		for _, param := range decl.Parameters {
			hasType, hasUnion := param.Type != "", len(param.OneOf) > 0
			if hasType == hasUnion {
				return fmt.Errorf("parameter %q of %s must set exactly one of type and oneOf", param.Name, decl.Type)
			}
		}
	}
	return nil
}

// hostManifest lists the host's built-in extensions.
type hostManifest struct {
	Extensions []ExtensionDecl `yaml:"extensions"`
}

func parseHostManifest(raw []byte) ([]ExtensionDecl, error) {
	var m hostManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode host manifest: %w", err)
	}
	if err := validateExtensions(m.Extensions); err != nil {
		return nil, err
	}
	return m.Extensions, nil
}
