package plugin

import (
	"fmt"

	xerrors "StepScope/internal/errors"
)

// CatalogError reports a missing, malformed or unloadable plugin archive, or a
// plugin whose mandatory dependency could not be satisfied.
type CatalogError struct {
	// Archive is the archive path, empty for directory-level failures.
	Archive string
	// Plugin is the plugin name when the manifest got far enough to name one.
	Plugin string
	Reason string
	coded  *xerrors.Error
}

func newCatalogError(archive, plugin, reason string, cause error) *CatalogError {
	opts := []xerrors.Option{}
	if archive != "" {
		opts = append(opts, xerrors.WithMetadata("archive", archive))
	}
	if plugin != "" {
		opts = append(opts, xerrors.WithMetadata("plugin", plugin))
	}
	return &CatalogError{
		Archive: archive,
		Plugin:  plugin,
		Reason:  reason,
		coded:   xerrors.Wrap(xerrors.CodeCatalog, cause, reason, opts...),
	}
}

func (e *CatalogError) Error() string {
	subject := e.Archive
	if e.Plugin != "" {
		subject = fmt.Sprintf("plugin %s", e.Plugin)
	}
	if subject == "" {
		return e.coded.Error()
	}
	return fmt.Sprintf("%s: %s", subject, e.coded.Error())
}

// Unwrap exposes the coded error.
func (e *CatalogError) Unwrap() error { return e.coded }
