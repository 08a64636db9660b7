// Package dotnet reads metadata out of managed (.NET) assembly images
// without executing them: the assembly's self-declared name and version,
// and the payload of embedded manifest resources. Input bytes are
// attacker-controlled, so every offset and length taken from the image
// is bounds-checked and every failure comes back as an error value.
package dotnet

import (
	"bytes"
	"debug/pe"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrImageFormat means the bytes are not a well-formed managed
	// assembly image: bad PE headers, missing CLI header, missing or
	// truncated metadata, or a resource offset outside the parsed bounds.
	ErrImageFormat = errors.New("not a valid managed assembly image")

	// ErrNoManifestResource means the image parsed fine but contains no
	// embedded resource with the requested name suffix.
	ErrNoManifestResource = errors.New("no manifest resource found in assembly")
)

// ExtractionError classifies a failure that is neither a recognized
// image-format problem nor a missing resource. Operators need to tell
// "definitely not an assembly" apart from "assembly we failed to
// process", so this is a distinct type.
type ExtractionError struct {
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("unexpected error while reading assembly: %v", e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// Identity is an assembly's self-declared name and four-part version
// from its Assembly metadata table.
type Identity struct {
	Name     string
	Major    uint16
	Minor    uint16
	Build    uint16
	Revision uint16
}

// VersionString renders the four-part assembly version.
func (id Identity) VersionString() string {
	return fmt.Sprintf("%d.%d.%d.%d", id.Major, id.Minor, id.Build, id.Revision)
}

// Assembly is a parsed managed image. It holds no references into the
// caller's buffer beyond the validation call: resource payloads are
// copied out on extraction.
type Assembly struct {
	identity     *Identity
	resources    []resourceEntry
	resourceData []byte
}

// resourceEntry is one row of the ManifestResource metadata table.
type resourceEntry struct {
	name           string
	offset         uint32
	implementation uint32
}

// Load parses image bytes into an Assembly. Malformed input returns
// ErrImageFormat; anything unanticipated is wrapped in ExtractionError
// rather than escaping as a panic.
func Load(image []byte) (asm *Assembly, err error) {
	defer func() {
		if r := recover(); r != nil {
			asm = nil
			err = &ExtractionError{Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	f, perr := pe.NewFile(bytes.NewReader(image))
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageFormat, perr)
	}
	defer f.Close()

	cliRVA, cliSize, ok := cliDirectory(f)
	if !ok || cliSize < cliHeaderSize {
		return nil, fmt.Errorf("%w: no CLI header directory", ErrImageFormat)
	}

	layout := sectionLayout(f, image)

	cli, ok := layout.slice(cliRVA, cliHeaderSize)
	if !ok {
		return nil, fmt.Errorf("%w: CLI header outside image bounds", ErrImageFormat)
	}
	hdr := parseCLIHeader(cli)

	if hdr.metadataRVA == 0 {
		return nil, fmt.Errorf("%w: missing metadata directory", ErrImageFormat)
	}
	meta, ok := layout.slice(hdr.metadataRVA, int(hdr.metadataSize))
	if !ok {
		return nil, fmt.Errorf("%w: metadata outside image bounds", ErrImageFormat)
	}

	md, mderr := parseMetadata(meta)
	if mderr != nil {
		return nil, mderr
	}

	asm = &Assembly{
		identity:  md.identity,
		resources: md.resources,
	}

	// The resource data region runs from the resources directory start to
	// the end of its containing section, trimmed by the declared directory
	// size when that is tighter.
	if hdr.resourcesRVA != 0 {
		region, ok := layout.toSectionEnd(hdr.resourcesRVA)
		if ok {
			if hdr.resourcesSize > 0 && int(hdr.resourcesSize) < len(region) {
				region = region[:hdr.resourcesSize]
			}
			asm.resourceData = region
		}
	}

	return asm, nil
}

// Identity returns the assembly's declared name and version, or false
// when the image has no Assembly table row.
func (a *Assembly) Identity() (Identity, bool) {
	if a.identity == nil {
		return Identity{}, false
	}
	return *a.identity, true
}

// Resource returns a copy of the payload of the first embedded resource
// whose name ends in suffix (case-insensitive), in metadata table order.
// Later matches are never considered. Returns ErrNoManifestResource when
// nothing matches and ErrImageFormat when the matching entry's offsets
// fall outside the resource data region.
func (a *Assembly) Resource(suffix string) ([]byte, error) {
	suffix = strings.ToLower(suffix)
	for _, res := range a.resources {
		if res.implementation != 0 {
			// References a resource in another file; nothing embedded here.
			continue
		}
		if !strings.HasSuffix(strings.ToLower(res.name), suffix) {
			continue
		}
		return a.extract(res)
	}
	return nil, ErrNoManifestResource
}

func (a *Assembly) extract(res resourceEntry) ([]byte, error) {
	data := a.resourceData
	off := int64(res.offset)
	if data == nil || off+4 > int64(len(data)) {
		return nil, fmt.Errorf("%w: resource %q offset outside resource data", ErrImageFormat, res.name)
	}
	length := int64(leUint32(data[off : off+4]))
	if off+4+length > int64(len(data)) {
		return nil, fmt.Errorf("%w: resource %q length exceeds resource data", ErrImageFormat, res.name)
	}
	payload := make([]byte, length)
	copy(payload, data[off+4:off+4+length])
	return payload, nil
}

const (
	cliDirectoryIndex = 14 // IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
	cliHeaderSize     = 72
)

// cliDirectory reads the CLI header data directory from either optional
// header flavor.
func cliDirectory(f *pe.File) (rva uint32, size uint32, ok bool) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= cliDirectoryIndex {
			return 0, 0, false
		}
		dd := oh.DataDirectory[cliDirectoryIndex]
		return dd.VirtualAddress, dd.Size, dd.VirtualAddress != 0
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= cliDirectoryIndex {
			return 0, 0, false
		}
		dd := oh.DataDirectory[cliDirectoryIndex]
		return dd.VirtualAddress, dd.Size, dd.VirtualAddress != 0
	default:
		return 0, 0, false
	}
}

// cliHeader is the subset of the IMAGE_COR20_HEADER this package needs.
type cliHeader struct {
	metadataRVA   uint32
	metadataSize  uint32
	resourcesRVA  uint32
	resourcesSize uint32
}

func parseCLIHeader(b []byte) cliHeader {
	return cliHeader{
		metadataRVA:   leUint32(b[8:12]),
		metadataSize:  leUint32(b[12:16]),
		resourcesRVA:  leUint32(b[24:28]),
		resourcesSize: leUint32(b[28:32]),
	}
}

// layout maps relative virtual addresses onto the raw image bytes.
type layout struct {
	sections []sectionRange
	image    []byte
}

type sectionRange struct {
	rva     uint32
	size    uint32 // readable bytes, clamped to what the file holds
	fileOff uint32
}

func sectionLayout(f *pe.File, image []byte) layout {
	l := layout{image: image}
	for _, s := range f.Sections {
		size := s.Size
		if s.VirtualSize != 0 && s.VirtualSize < size {
			size = s.VirtualSize
		}
		if int64(s.Offset)+int64(size) > int64(len(image)) {
			if int64(s.Offset) >= int64(len(image)) {
				continue
			}
			size = uint32(len(image)) - s.Offset
		}
		l.sections = append(l.sections, sectionRange{rva: s.VirtualAddress, size: size, fileOff: s.Offset})
	}
	return l
}

// slice returns n readable bytes starting at rva, or false when the
// range is not fully contained in one section.
func (l layout) slice(rva uint32, n int) ([]byte, bool) {
	for _, s := range l.sections {
		if rva < s.rva || rva-s.rva >= s.size {
			continue
		}
		start := s.fileOff + (rva - s.rva)
		remain := int64(s.size) - int64(rva-s.rva)
		if int64(n) > remain {
			return nil, false
		}
		return l.image[start : int64(start)+int64(n)], true
	}
	return nil, false
}

// toSectionEnd returns the bytes from rva to the end of its containing
// section.
func (l layout) toSectionEnd(rva uint32) ([]byte, bool) {
	for _, s := range l.sections {
		if rva < s.rva || rva-s.rva >= s.size {
			continue
		}
		start := s.fileOff + (rva - s.rva)
		end := int64(s.fileOff) + int64(s.size)
		return l.image[start:end], true
	}
	return nil, false
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
