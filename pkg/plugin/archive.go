package plugin

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoManifest is returned by a Loader when a candidate entry carries no
// plugin.yaml and therefore is not a plugin archive.
var ErrNoManifest = errors.New("no " + ManifestFile + " at archive root")

// maxManifestSize bounds how much of a manifest is read from an archive.
const maxManifestSize = 1 << 20

// Loader reads the manifest of a plugin archive.
type Loader interface {
	Load(path string) ([]byte, error)
}

// ArchiveLoader reads exploded archive directories and zip files with the
// .zip, .hpi or .jpi extension.
type ArchiveLoader struct{}

// Load implements Loader.
func (ArchiveLoader) Load(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return readDirManifest(path)
	}
	if !isZipArchive(path) {
		return nil, ErrNoManifest
	}
	return readZipManifest(path)
}

func readDirManifest(dir string) ([]byte, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readManifest(f)
}

func readZipManifest(path string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	f, err := r.Open(ManifestFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ManifestFile, err)
	}
	defer f.Close()
	return readManifest(f)
}

func readManifest(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ManifestFile, err)
	}
	if len(raw) > maxManifestSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", ManifestFile, maxManifestSize)
	}
	return raw, nil
}

func isZipArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".hpi", ".jpi":
		return true
	default:
		return false
	}
}
