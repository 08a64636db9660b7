// Package archive classifies uploaded mod archives. An upload is a zip
// whose entries decide the validation path: a manifest-suffixed entry
// makes it a library, an assembly-suffixed entry makes it a plugin, a
// bundled loader executable bypasses validation entirely.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sentinel errors
var (
	// ErrNoManifest means the archive holds neither a manifest entry nor
	// an assembly entry and is not a loader bundle.
	ErrNoManifest = errors.New("no plugin or library manifest found")

	// ErrNotArchive means the upload bytes are not a readable zip.
	ErrNotArchive = errors.New("upload is not a readable archive")
)

// Kind is the classification of an upload.
type Kind int

const (
	// KindUnclassified: no qualifying entry found.
	KindUnclassified Kind = iota
	// KindLibrary: the archive carries a bare manifest entry.
	KindLibrary
	// KindPlugin: the archive carries a managed assembly entry.
	KindPlugin
	// KindBypass: the archive bundles the loader executable and is
	// accepted without further checks.
	KindBypass
)

func (k Kind) String() string {
	switch k {
	case KindLibrary:
		return "library"
	case KindPlugin:
		return "plugin"
	case KindBypass:
		return "bypass"
	default:
		return "unclassified"
	}
}

/// Entry is one archive member: a name and a readable byte stream. This
// is the boundary to the container format; classification never assumes
// anything about entry order beyond "first match wins".
type Entry interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// Naming holds the filename conventions classification matches against.
type Naming struct {
	// ManifestExt is the manifest entry suffix, matched case-insensitively.
	ManifestExt string
	// AssemblyExt is the managed assembly suffix, matched case-insensitively.
	AssemblyExt string
	// LoaderFilename is the exact entry name that triggers the bypass.
	LoaderFilename string
}

// Classification is the outcome of inspecting an entry listing.
type Classification struct {
	Kind Kind
	// Entry is the matched manifest entry (library) or assembly entry
	// (plugin). Nil for bypass and unclassified results.
	Entry Entry
}

// Classify inspects the entry listing. The loader bypass short-circuits
// before any other rule; a manifest entry beats an assembly entry; when
// duplicates share a suffix, the first one in listing order is used.
func Classify(entries []Entry, naming Naming) Classification {
	for _, e := range entries {
		if naming.LoaderFilename != "" && e.Name() == naming.LoaderFilename {
			return Classification{Kind: KindBypass}
		}
	}

	var manifest, assembly Entry
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if manifest == nil && strings.HasSuffix(name, strings.ToLower(naming.ManifestExt)) {
			manifest = e
		}
		if assembly == nil && strings.HasSuffix(name, strings.ToLower(naming.AssemblyExt)) {
			assembly = e
		}
	}

	switch {
	case manifest != nil:
		return Classification{Kind: KindLibrary, Entry: manifest}
	case assembly != nil:
		return Classification{Kind: KindPlugin, Entry: assembly}
	default:
		return Classification{Kind: KindUnclassified}
	}
}

// ReadEntry drains an entry's stream, closing it on every path.
func ReadEntry(e Entry) ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", e.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", e.Name(), err)
	}
	return data, nil
}

// zipEntry adapts one *zip.File to the Entry boundary.
type zipEntry struct {
	f *zip.File
}

func (z zipEntry) Name() string                 { return z.f.Name }
func (z zipEntry) Open() (io.ReadCloser, error) { return z.f.Open() }

// List opens upload bytes as a zip and returns its entry listing.
func List(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, zipEntry{f: f})
	}
	return entries, nil
}
