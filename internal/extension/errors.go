package extension

import (
	xerrors "StepScope/internal/errors"
)

// UnattributedComponentError reports a component no loaded plugin owns, such
// as a host built-in.
type UnattributedComponentError struct {
	Component string
	Type      string
	coded     *xerrors.Error
}

func newUnattributedComponentError(c Component) *UnattributedComponentError {
	return &UnattributedComponentError{
		Component: c.Name,
		Type:      c.Type,
		coded: xerrors.New(xerrors.CodeUnattributedComponent, "component "+c.Name+" ("+c.Type+") has no owning plugin",
			xerrors.WithMetadata("type", c.Type)),
	}
}

func (e *UnattributedComponentError) Error() string { return e.coded.Error() }

// Unwrap exposes the coded error.
func (e *UnattributedComponentError) Unwrap() error { return e.coded }

// UnresolvedDelegateError reports a type id that cannot be resolved from a
// component's scope.
type UnresolvedDelegateError struct {
	From   string
	TypeID string
	coded  *xerrors.Error
}

func newUnresolvedDelegateError(from Component, typeID, reason string) *UnresolvedDelegateError {
	return &UnresolvedDelegateError{
		From:   from.Name,
		TypeID: typeID,
		coded: xerrors.New(xerrors.CodeUnresolvedDelegate, typeID+" from "+from.Name+": "+reason,
			xerrors.WithMetadata("type", typeID)),
	}
}

func (e *UnresolvedDelegateError) Error() string { return e.coded.Error() }

// Unwrap exposes the coded error.
func (e *UnresolvedDelegateError) Unwrap() error { return e.coded }
