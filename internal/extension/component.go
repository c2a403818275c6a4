package extension

import (
	"slices"

	"StepScope/pkg/plugin"
)

// Capability names an extension point, such as "step" or "scm".
type Capability string

// Component is one discovered implementation of a capability.
type Component struct {
	// Name is the short name by which users refer to the component.
	Name       string
	Type       string
	Capability Capability
	// Advanced marks advanced or deprecated components.
	Advanced bool
	// Origin is the scope that declared the component.
	Origin *plugin.Scope
	Shape  Shape
}

// Key identifies the component across scopes.
func (c Component) Key() string {
	if c.Origin == nil {
		return "/" + c.Type
	}
	return c.Origin.ID() + "/" + c.Type
}

// Shape is either Simple or Meta.
type Shape interface {
	isShape()
}

// Simple is a basic component with no nested components.
type Simple struct{}

// Meta is a composite component configured through parameters.
type Meta struct {
	Parameters []Parameter
}

func (Simple) isShape() {}
func (Meta) isShape()   {}

// Parameter is a constructor parameter of a Meta component.
type Parameter struct {
	Name     string
	Required bool
	Type     ParamType
}

// ParamType is either FixedType or UnionType.
type ParamType interface {
	isParamType()
}

// FixedType is a parameter of one concrete type.
type FixedType struct {
	TypeID string
}

// UnionType is a parameter accepting any member of a closed set of types.
type UnionType struct {
	Members []string
}

func (FixedType) isParamType() {}
func (UnionType) isParamType() {}

func newComponent(scope *plugin.Scope, d plugin.ExtensionDecl) Component {
	c := Component{
		Name:       d.Name,
		Type:       d.Type,
		Capability: Capability(d.Capability),
		Advanced:   d.Advanced,
		Origin:     scope,
		Shape:      Simple{},
	}
	if !d.Meta {
		return c
	}
	params := make([]Parameter, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		param := Parameter{Name: p.Name, Required: p.Required}
		if len(p.OneOf) > 0 {
			param.Type = UnionType{Members: slices.Clone(p.OneOf)}
		} else {
			param.Type = FixedType{TypeID: p.Type}
		}
		params = append(params, param)
	}
	c.Shape = Meta{Parameters: params}
	return c
}
