// Package testimage builds minimal managed assembly images in memory so
// tests can exercise resource extraction without binary fixtures on
// disk. The images carry one .text section holding a CLI header, a
// metadata root with #~ and #Strings streams, and a resource data
// region; that is exactly the surface the dotnet package reads.
package testimage

import (
	"bytes"
	"encoding/binary"
)

// Resource describes one embedded resource row.
type Resource struct {
	Name    string
	Payload []byte
	// Implementation marks the resource as living in another file when
	// nonzero; such rows carry no embedded payload.
	Implementation uint32
	// OffsetOverride replaces the computed resource-data offset, to
	// fabricate out-of-bounds rows.
	OffsetOverride *uint32
}

// Options controls the generated image.
type Options struct {
	AssemblyName string
	Version      [4]uint16 // major, minor, build, revision
	// NoAssemblyRow omits the Assembly table entirely.
	NoAssemblyRow bool
	Resources     []Resource
	// BadMetadataMagic corrupts the metadata root signature.
	BadMetadataMagic bool
	// NoCLIDirectory zeroes the CLI header data directory.
	NoCLIDirectory bool
}

const (
	sectionRVA  = 0x2000
	sectionFile = 0x200
	cor20Size   = 72
)

// Build assembles the image bytes.
func Build(opts Options) []byte {
	strings := newStringsHeap()
	nameIdx := strings.add(opts.AssemblyName)
	resNameIdx := make([]uint32, len(opts.Resources))
	for i, res := range opts.Resources {
		resNameIdx[i] = strings.add(res.Name)
	}

	// Resource data region: [len u32][payload] per embedded resource.
	var resData bytes.Buffer
	resOffsets := make([]uint32, len(opts.Resources))
	for i, res := range opts.Resources {
		if res.Implementation != 0 {
			continue
		}
		resOffsets[i] = uint32(resData.Len())
		le32(&resData, uint32(len(res.Payload)))
		resData.Write(res.Payload)
	}
	for i, res := range opts.Resources {
		if res.OffsetOverride != nil {
			resOffsets[i] = *res.OffsetOverride
		}
	}

	tables := buildTables(opts, nameIdx, resNameIdx, resOffsets)
	meta := buildMetadata(tables, strings.bytes(), opts.BadMetadataMagic)

	// Section layout: CLI header, metadata, then the resource region.
	metaRVA := uint32(sectionRVA + cor20Size)
	resRVA := align4(metaRVA + uint32(len(meta)))

	var sec bytes.Buffer
	sec.Write(buildCor20(metaRVA, uint32(len(meta)), resRVA, uint32(resData.Len())))
	sec.Write(meta)
	pad(&sec, int(resRVA-metaRVA)-len(meta))
	sec.Write(resData.Bytes())

	return buildPE(sec.Bytes(), opts.NoCLIDirectory)
}

// stringsHeap accumulates the #Strings heap, deduplicating by value.
type stringsHeap struct {
	buf     bytes.Buffer
	indexes map[string]uint32
}

func newStringsHeap() *stringsHeap {
	h := &stringsHeap{indexes: make(map[string]uint32)}
	h.buf.WriteByte(0) // index 0 is the empty string
	return h
}

func (h *stringsHeap) add(s string) uint32 {
	if s == "" {
		return 0
	}
	if idx, ok := h.indexes[s]; ok {
		return idx
	}
	idx := uint32(h.buf.Len())
	h.buf.WriteString(s)
	h.buf.WriteByte(0)
	h.indexes[s] = idx
	return idx
}

func (h *stringsHeap) bytes() []byte {
	return h.buf.Bytes()
}

// buildTables emits the #~ stream with Assembly and ManifestResource
// rows only.
func buildTables(opts Options, nameIdx uint32, resNameIdx, resOffsets []uint32) []byte {
	var valid uint64
	if !opts.NoAssemblyRow {
		valid |= 1 << 0x20
	}
	if len(opts.Resources) > 0 {
		valid |= 1 << 0x28
	}

	var b bytes.Buffer
	le32(&b, 0)     // reserved
	b.WriteByte(2)  // major
	b.WriteByte(0)  // minor
	b.WriteByte(0)  // heap sizes: all narrow
	b.WriteByte(1)  // reserved
	le64(&b, valid) // valid
	le64(&b, 0)     // sorted

	if !opts.NoAssemblyRow {
		le32(&b, 1)
	}
	if len(opts.Resources) > 0 {
		le32(&b, uint32(len(opts.Resources)))
	}

	if !opts.NoAssemblyRow {
		le32(&b, 0x8004) // hash algorithm: SHA1
		le16(&b, opts.Version[0])
		le16(&b, opts.Version[1])
		le16(&b, opts.Version[2])
		le16(&b, opts.Version[3])
		le32(&b, 0)               // flags
		le16(&b, 0)               // public key blob index
		le16(&b, uint16(nameIdx)) // name
		le16(&b, 0)               // culture
	}
	for i, res := range opts.Resources {
		le32(&b, resOffsets[i])
		le32(&b, 1) // flags: public
		le16(&b, uint16(resNameIdx[i]))
		le16(&b, uint16(res.Implementation))
	}
	return b.Bytes()
}

// buildMetadata wraps the table stream and strings heap in a metadata
// root with two stream headers.
func buildMetadata(tables, strHeap []byte, badMagic bool) []byte {
	const rootSize = 32 + 12 + 20 // fixed root + "#~" header + "#Strings" header

	var b bytes.Buffer
	magic := uint32(0x424A5342)
	if badMagic {
		magic = 0xDEADBEEF
	}
	le32(&b, magic)
	le16(&b, 1)
	le16(&b, 1)
	le32(&b, 0)
	le32(&b, 12)
	b.WriteString("v4.0.30319\x00\x00")
	le16(&b, 0) // flags
	le16(&b, 2) // stream count

	le32(&b, rootSize)
	le32(&b, uint32(len(tables)))
	b.WriteString("#~\x00\x00")

	le32(&b, rootSize+uint32(len(tables)))
	le32(&b, uint32(len(strHeap)))
	b.WriteString("#Strings\x00\x00\x00\x00")

	b.Write(tables)
	b.Write(strHeap)
	return b.Bytes()
}

func buildCor20(metaRVA, metaSize, resRVA, resSize uint32) []byte {
	var b bytes.Buffer
	le32(&b, cor20Size)
	le16(&b, 2) // runtime major
	le16(&b, 5) // runtime minor
	le32(&b, metaRVA)
	le32(&b, metaSize)
	le32(&b, 1) // flags: IL only
	le32(&b, 0) // entry point
	if resSize > 0 {
		le32(&b, resRVA)
		le32(&b, resSize)
	} else {
		le32(&b, 0)
		le32(&b, 0)
	}
	pad(&b, cor20Size-b.Len())
	return b.Bytes()
}

// buildPE wraps the section bytes in a minimal PE32 image with one
// .text section and the CLI data directory pointing at its start.
func buildPE(section []byte, noCLIDir bool) []byte {
	secSize := uint32(len(section))
	rawSize := alignTo(secSize, sectionFile)

	var b bytes.Buffer

	// DOS header: "MZ" plus the PE offset at 0x3C.
	dos := make([]byte, 0x80)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3C:], 0x80)
	b.Write(dos)

	b.WriteString("PE\x00\x00")

	// COFF header.
	le16(&b, 0x14C) // i386
	le16(&b, 1)     // one section
	le32(&b, 0)     // timestamp
	le32(&b, 0)     // symbol table
	le32(&b, 0)     // symbol count
	le16(&b, 224)   // optional header size (PE32)
	le16(&b, 0x2102)

	// Optional header (PE32).
	le16(&b, 0x10B)
	b.WriteByte(8)
	b.WriteByte(0)
	le32(&b, rawSize)     // size of code
	le32(&b, 0)           // initialized data
	le32(&b, 0)           // uninitialized data
	le32(&b, 0)           // entry point
	le32(&b, sectionRVA)  // base of code
	le32(&b, 0)           // base of data
	le32(&b, 0x400000)    // image base
	le32(&b, 0x1000)      // section alignment
	le32(&b, sectionFile) // file alignment
	le16(&b, 4)
	le16(&b, 0)
	le16(&b, 0)
	le16(&b, 0)
	le16(&b, 4)
	le16(&b, 0)
	le32(&b, 0)                                   // win32 version
	le32(&b, alignTo(sectionRVA+secSize, 0x1000)) // size of image
	le32(&b, sectionFile)                         // size of headers
	le32(&b, 0)                                   // checksum
	le16(&b, 3)                                   // subsystem: console
	le16(&b, 0)
	le32(&b, 0x100000)
	le32(&b, 0x1000)
	le32(&b, 0x100000)
	le32(&b, 0x1000)
	le32(&b, 0)  // loader flags
	le32(&b, 16) // data directory count
	for i := 0; i < 16; i++ {
		if i == 14 && !noCLIDir {
			le32(&b, sectionRVA)
			le32(&b, cor20Size)
			continue
		}
		le32(&b, 0)
		le32(&b, 0)
	}

	// Section header.
	name := make([]byte, 8)
	copy(name, ".text")
	b.Write(name)
	le32(&b, secSize)     // virtual size
	le32(&b, sectionRVA)  // virtual address
	le32(&b, rawSize)     // raw size
	le32(&b, sectionFile) // raw offset
	le32(&b, 0)
	le32(&b, 0)
	le16(&b, 0)
	le16(&b, 0)
	le32(&b, 0x60000020) // code | execute | read

	pad(&b, sectionFile-b.Len())
	b.Write(section)
	pad(&b, int(rawSize)-len(section))

	return b.Bytes()
}

func le16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func le32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func le64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func pad(b *bytes.Buffer, n int) {
	if n > 0 {
		b.Write(make([]byte, n))
	}
}

func align4(v uint32) uint32 {
	return alignTo(v, 4)
}

func alignTo(v, boundary uint32) uint32 {
	return (v + boundary - 1) / boundary * boundary
}
